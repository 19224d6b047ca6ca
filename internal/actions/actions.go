// Package actions defines the closed set of structured actions the
// reasoning engine may request, plus the operator-editable copy (closing
// messages, opportunity stages) loaded from YAML.
package actions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Name identifies one recognized action.
type Name string

const (
	Handoff         Name = "handoff"          // hand the conversation to a human
	EndConversation Name = "end_conversation" // stop automation for this contact
	Tier1           Name = "tier_1"           // present the tier-1 resource
	Tier2           Name = "tier_2"
	Tier3           Name = "tier_3"
)

// All lists every recognized action.
var All = []Name{Handoff, EndConversation, Tier1, Tier2, Tier3}

// Parse maps a raw action name to a recognized Name. The second return is
// false for anything outside the closed set; callers must treat that as a
// failure, not fall through silently.
func Parse(raw string) (Name, bool) {
	for _, n := range All {
		if string(n) == raw {
			return n, true
		}
	}
	return "", false
}

// Copy holds the operator-editable behavior of one action.
type Copy struct {
	ClosingMessage    string `yaml:"closing_message"`    // sent to the contact; empty skips the send
	RecordOpportunity bool   `yaml:"record_opportunity"` // write a tracker record
	Stage             string `yaml:"stage"`              // tracker stage label
}

// Set maps recognized actions to their copy.
type Set struct {
	Actions map[Name]Copy `yaml:"actions"`
}

// Get returns the copy for an action, falling back to defaults for
// actions the file leaves out.
func (s *Set) Get(n Name) Copy {
	if c, ok := s.Actions[n]; ok {
		return c
	}
	return defaultSet().Actions[n]
}

func defaultSet() *Set {
	return &Set{Actions: map[Name]Copy{
		Handoff: {
			ClosingMessage: "Thanks for reaching out — a member of our team will follow up with you shortly.",
		},
		EndConversation: {
			ClosingMessage: "Thanks for chatting with us today!",
		},
		Tier1: {
			ClosingMessage:    "Here's our starter resource to get you going.",
			RecordOpportunity: true,
			Stage:             "tier_1",
		},
		Tier2: {
			ClosingMessage:    "Based on what you shared, this program is the best fit.",
			RecordOpportunity: true,
			Stage:             "tier_2",
		},
		Tier3: {
			ClosingMessage:    "You qualify for our full program — here's everything you need.",
			RecordOpportunity: true,
			Stage:             "tier_3",
		},
	}}
}

// Load reads the action copy from a YAML file. An empty path returns the
// built-in defaults; file entries override per action.
func Load(path string) (*Set, error) {
	set := defaultSet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading actions file: %w", err)
	}

	var loaded Set
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing actions file: %w", err)
	}
	for name, c := range loaded.Actions {
		if _, ok := Parse(string(name)); !ok {
			return nil, fmt.Errorf("actions file defines unrecognized action %q", name)
		}
		set.Actions[name] = c
	}
	return set, nil
}
