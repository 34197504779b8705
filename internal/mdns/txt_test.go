package mdns

import (
	"reflect"
	"testing"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

func TestEncodeTXT(t *testing.T) {
	got := encodeTXT(map[string]string{"version": "1", "device_type": "phone", "empty": ""})
	want := []string{"device_type=phone", "empty=", "version=1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("encodeTXT() = %v, want %v", got, want)
	}

	if got := encodeTXT(nil); len(got) != 0 {
		t.Errorf("encodeTXT(nil) = %v, want empty", got)
	}
}

func TestDecodeTXT(t *testing.T) {
	tests := []struct {
		name string
		txt  []string
		want []discovery.Property
	}{
		{
			name: "key value pairs",
			txt:  []string{"path=/", "srcvers=1D90645"},
			want: []discovery.Property{
				{Key: "path", Value: []byte("/")},
				{Key: "srcvers", Value: []byte("1D90645")},
			},
		},
		{
			name: "value containing equals",
			txt:  []string{"q=a=b"},
			want: []discovery.Property{{Key: "q", Value: []byte("a=b")}},
		},
		{
			name: "key without value",
			txt:  []string{"flag"},
			want: []discovery.Property{{Key: "flag"}},
		},
		{
			name: "empty value",
			txt:  []string{"k="},
			want: []discovery.Property{{Key: "k", Value: []byte{}}},
		},
		{
			name: "empty string skipped",
			txt:  []string{""},
			want: []discovery.Property{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeTXT(tt.txt)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodeTXT() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
