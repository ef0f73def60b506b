package session

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/transcript"
)

// Policy decides what happens to an eligible utterance while a relay is outstanding.
type Policy string

const (
	// PolicyConcurrent starts an independent relay per utterance. Replies may render out of
	// utterance order.
	PolicyConcurrent Policy = "concurrent"
	// PolicySerialized queues utterances and relays them one at a time, in arrival order.
	PolicySerialized Policy = "serialized"
)

const defaultMaxQueue = 8

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyConcurrent:
		return PolicyConcurrent, nil
	case PolicySerialized:
		return PolicySerialized, nil
	default:
		return "", errors.Errorf("unknown relay policy %q (want concurrent or serialized)", s)
	}
}

// Options configures every controller created for a session.
type Options struct {
	Relay  relay.Sender
	Filter transcript.Filter
	Policy Policy
	// MaxQueue bounds the serialized queue; utterances beyond it are dropped.
	MaxQueue     int
	FallbackText string
	// Recorder is optional.
	Recorder relaylog.Store
}

func (o Options) normalized() (Options, error) {
	if o.Relay == nil {
		return o, errors.New("session: relay sender is nil")
	}
	if o.Policy == "" {
		o.Policy = PolicyConcurrent
	}
	if o.Policy != PolicyConcurrent && o.Policy != PolicySerialized {
		return o, errors.Errorf("session: unknown policy %q", o.Policy)
	}
	if o.MaxQueue <= 0 {
		o.MaxQueue = defaultMaxQueue
	}
	return o, nil
}
