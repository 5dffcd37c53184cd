package queue

import (
	"context"
	"errors"
	"testing"
)

func TestDisabled(t *testing.T) {
	var q Queue = Disabled{}

	if q.Enabled() {
		t.Error("Disabled.Enabled() = true")
	}
	if _, err := q.Enqueue(context.Background(), TaskConvert, Payload{}); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Enqueue() error = %v, want ErrQueueUnavailable", err)
	}
	if _, err := q.Fetch(context.Background(), "x"); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrQueueUnavailable", err)
	}
}

func TestStatusConvertedURL(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{"from result", Status{Result: &Result{ConvertedURL: "/download/a/"}}, "/download/a/"},
		{"from meta", Status{Meta: map[string]string{"converted_url": "/download/b/"}}, "/download/b/"},
		{"none", Status{Status: StatusQueued}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.ConvertedURL(); got != tt.want {
				t.Errorf("ConvertedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
