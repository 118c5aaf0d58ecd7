package filegate

import (
	"fmt"
	"strconv"
	"strings"
)

// Deep-link payload prefixes carried in the bot's /start parameter.
const (
	tokenPayloadPrefix = "token_"
	filePayloadPrefix  = "file_"
)

// TokenLink builds the deep link a user follows to redeem an access token.
func TokenLink(botUsername, tokenID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", botUsername, tokenPayloadPrefix, tokenID)
}

// FileLink builds the deep link that requests delivery of a catalog record.
func FileLink(botUsername string, channelID, messageID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%d_%d", botUsername, filePayloadPrefix, channelID, messageID)
}

// ParseTokenPayload extracts the token id from a /start payload.
// Returns false if the payload is not a token deep link.
func ParseTokenPayload(payload string) (string, bool) {
	id, ok := strings.CutPrefix(payload, tokenPayloadPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ParseFilePayload extracts the channel and message ids from a /start payload.
// Returns false if the payload is not a file deep link.
func ParseFilePayload(payload string) (channelID, messageID int64, ok bool) {
	rest, found := strings.CutPrefix(payload, filePayloadPrefix)
	if !found {
		return 0, 0, false
	}
	chanStr, msgStr, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	channelID, err := strconv.ParseInt(chanStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	messageID, err = strconv.ParseInt(msgStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return channelID, messageID, true
}
