// Package filter drops purely conversational chatter before any external call is made.
package filter

import "strings"

var chatter = map[string]struct{}{
	"thanks": {}, "thank you": {}, "thx": {}, "ty": {}, "tysm": {}, "cheers": {},
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "np": {}, "no problem": {}, "sure": {},
	"yes": {}, "yep": {}, "yup": {}, "no": {}, "nope": {}, "cool": {}, "nice": {},
	"great": {}, "awesome": {}, "got it": {}, "sounds good": {}, "will do": {}, "done": {},
	"lol": {}, "haha": {}, "+1": {}, "hi": {}, "hello": {}, "hey": {}, "hey there": {},
	"good morning": {}, "gm": {}, "bye": {}, "see you": {}, "welcome": {},
	"you're welcome": {}, "yw": {}, "ack": {}, "noted": {}, "perfect": {},
}

const trailingPunctuation = ".,!?"

// ShouldProcess reports whether a normalized message is worth classifying. Only empty
// text and messages that consist of nothing but an acknowledgement or greeting are
// rejected; the comparison is on the whole string so "thanks, the export is broken"
// still goes through.
func ShouldProcess(normalizedText string) bool {
	text := strings.TrimSpace(strings.ToLower(normalizedText))
	text = strings.TrimSpace(strings.TrimRight(text, trailingPunctuation))
	if text == "" {
		return false
	}
	_, isChatter := chatter[text]
	return !isChatter
}
