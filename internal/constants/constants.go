package constants

const VERSION = "0.1.0"

const USER_AGENT = "flashfetch/" + VERSION + " (+https://github.com/Amund211/flashfetch)"
