package events

import "strings"

// Topic families. A topic string is "<family>:<id>", except the single global status topic.
const (
	StatusTopic = "status"

	callPrefix = "call:"
	userPrefix = "user:"
)

type TopicFamily string

const (
	FamilyCall   TopicFamily = "call"
	FamilyUser   TopicFamily = "user"
	FamilyStatus TopicFamily = "status"
)

func CallTopic(callID string) string { return callPrefix + callID }

func UserTopic(userID string) string { return userPrefix + userID }

// ParseTopic splits a topic into its family and id. The status topic has no id.
func ParseTopic(topic string) (TopicFamily, string, bool) {
	switch {
	case topic == StatusTopic:
		return FamilyStatus, "", true
	case strings.HasPrefix(topic, callPrefix) && len(topic) > len(callPrefix):
		return FamilyCall, strings.TrimPrefix(topic, callPrefix), true
	case strings.HasPrefix(topic, userPrefix) && len(topic) > len(userPrefix):
		return FamilyUser, strings.TrimPrefix(topic, userPrefix), true
	default:
		return "", "", false
	}
}
