package gateway

import "testing"

func TestClassifySequenceDrift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		clientSeq int64
		serverSeq int64
		want      sequenceDrift
	}{
		{name: "in sync", clientSeq: 5, serverSeq: 5, want: driftInSync},
		{name: "one behind", clientSeq: 4, serverSeq: 5, want: driftAcceptable},
		{name: "two ahead", clientSeq: 7, serverSeq: 5, want: driftAcceptable},
		{name: "three behind triggers reconnect", clientSeq: 2, serverSeq: 5, want: driftReconnect},
		{name: "far ahead triggers reconnect", clientSeq: 50, serverSeq: 5, want: driftReconnect},
		{name: "both zero", clientSeq: 0, serverSeq: 0, want: driftInSync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classifySequenceDrift(tt.clientSeq, tt.serverSeq); got != tt.want {
				t.Errorf("classifySequenceDrift(%d, %d) = %v, want %v", tt.clientSeq, tt.serverSeq, got, tt.want)
			}
		})
	}
}
