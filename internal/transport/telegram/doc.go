// Package telegram implements the broadcast transport on the Telegram Bot API.
//
// Sender identities ("profiles") are read from the site document under
// telegram.profiles. Each profile owns a bot token and a list of chat ids;
// a broadcast sends the same text to every chat of every profile, into the
// given forum thread when one is set.
package telegram
