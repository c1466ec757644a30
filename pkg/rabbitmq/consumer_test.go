package rabbitmq

import "testing"

func TestMatchHandlerRoutingKeys(t *testing.T) {
	c := &Consumer{}
	handled := ""
	handlers := map[string]func([]byte) bool{
		"job.completed.*": func([]byte) bool { handled = "wildcard"; return true },
		"job.cancelled":   func([]byte) bool { handled = "exact"; return true },
	}

	tests := []struct {
		name       string
		routingKey string
		wantMatch  bool
		wantVia    string
	}{
		{name: "exact match", routingKey: "job.cancelled", wantMatch: true, wantVia: "exact"},
		{name: "wildcard single segment", routingKey: "job.completed.renovation", wantMatch: true, wantVia: "wildcard"},
		{name: "wildcard another segment", routingKey: "job.completed.plumbing", wantMatch: true, wantVia: "wildcard"},
		{name: "wildcard does not span segments", routingKey: "job.completed.renovation.extra", wantMatch: false},
		{name: "wildcard needs the segment", routingKey: "job.completed", wantMatch: false},
		{name: "unrelated key", routingKey: "invoice.issued", wantMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled = ""
			h, ok := c.matchHandler(handlers, tt.routingKey)
			if ok != tt.wantMatch {
				t.Fatalf("expected match=%t for %q, got %t", tt.wantMatch, tt.routingKey, ok)
			}
			if !tt.wantMatch {
				return
			}
			h(nil)
			if handled != tt.wantVia {
				t.Fatalf("expected handler %q, got %q", tt.wantVia, handled)
			}
		})
	}
}
