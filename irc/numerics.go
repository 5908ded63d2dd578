package irc

import "github.com/lrstanley/girc"

// Numeric replies sent to local sessions.
const (
	RPL_WELCOME    = girc.RPL_WELCOME
	RPL_YOURHOST   = girc.RPL_YOURHOST
	RPL_CREATED    = girc.RPL_CREATED
	RPL_MYINFO     = girc.RPL_MYINFO
	RPL_UNAWAY     = girc.RPL_UNAWAY
	RPL_NOWAWAY    = girc.RPL_NOWAWAY
	RPL_NOTOPIC    = girc.RPL_NOTOPIC
	RPL_TOPIC      = girc.RPL_TOPIC
	RPL_NAMREPLY   = girc.RPL_NAMREPLY
	RPL_ENDOFNAMES = girc.RPL_ENDOFNAMES
	RPL_YOUREOPER  = girc.RPL_YOUREOPER
	RPL_INVITING   = girc.RPL_INVITING
	RPL_REHASHING  = girc.RPL_REHASHING

	ERR_NOSUCHNICK       = girc.ERR_NOSUCHNICK
	ERR_NOSUCHCHANNEL    = girc.ERR_NOSUCHCHANNEL
	ERR_UNKNOWNCOMMAND   = girc.ERR_UNKNOWNCOMMAND
	ERR_NOMOTD           = girc.ERR_NOMOTD
	ERR_NONICKNAMEGIVEN  = girc.ERR_NONICKNAMEGIVEN
	ERR_ERRONEUSNICKNAME = girc.ERR_ERRONEUSNICKNAME
	ERR_NICKNAMEINUSE    = girc.ERR_NICKNAMEINUSE
	ERR_NOTONCHANNEL     = girc.ERR_NOTONCHANNEL
	ERR_USERONCHANNEL    = girc.ERR_USERONCHANNEL
	ERR_NOTREGISTERED    = girc.ERR_NOTREGISTERED
	ERR_NEEDMOREPARAMS   = girc.ERR_NEEDMOREPARAMS
	ERR_ALREADYREGISTRED = girc.ERR_ALREADYREGISTRED
	ERR_PASSWDMISMATCH   = girc.ERR_PASSWDMISMATCH
	ERR_CHANNELISFULL    = girc.ERR_CHANNELISFULL
	ERR_INVITEONLYCHAN   = girc.ERR_INVITEONLYCHAN
	ERR_BADCHANNELKEY    = girc.ERR_BADCHANNELKEY
	ERR_CHANOPRIVSNEEDED = girc.ERR_CHANOPRIVSNEEDED
	ERR_NOPRIVILEGES     = girc.ERR_NOPRIVILEGES
)

// IsValidNick reports whether nick may be used as a nickname.
func IsValidNick(nick string) bool {
	return girc.IsValidNick(nick)
}
