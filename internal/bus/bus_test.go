package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"tracker/events/#", "tracker/events/test/hello", true},
		{"tracker/events/#", "tracker/events", false},
		{"tracker/events/#", "tracker/other/test", false},
		{"tracker/+/test", "tracker/events/test", true},
		{"tracker/+/test", "tracker/events/other", false},
		{"tracker/+/test", "tracker/a/b/test", false},
		{"plugins/events/+", "plugins/events/installed", true},
		{"plugins/events/+", "plugins/events/installed/extra", false},
		{"exact/topic", "exact/topic", true},
		{"exact/topic", "exact/other", false},
		{"#", "anything/at/all", true},
		{"+", "one", true},
		{"+", "one/two", false},
		{"a/#/b", "a/x/b", false}, // '#' must be last
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicMatches(tt.pattern, tt.topic))
		})
	}
}
