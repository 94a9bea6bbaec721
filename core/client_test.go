package core

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWikiNames(t *testing.T) {
	cases := map[string]struct {
		raw     string
		want    []string
		wantErr bool
	}{
		"single string": {
			raw:  `"enwiki"`,
			want: []string{"enwiki"},
		},
		"list": {
			raw:  `["enwiki","dewiki"]`,
			want: []string{"enwiki", "dewiki"},
		},
		"empty list": {
			raw:  `[]`,
			want: nil,
		},
		"non-strings skipped": {
			raw:  `[1,"enwiki",null,{"a":1}]`,
			want: []string{"enwiki"},
		},
		"wildcard": {
			raw:  `"*"`,
			want: []string{"*"},
		},
		"missing": {
			raw:     ``,
			wantErr: true,
		},
		"object": {
			raw:     `{"wiki":"enwiki"}`,
			wantErr: true,
		},
		"number": {
			raw:     `42`,
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := wikiNames(json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.NotNil(t, err)
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClientIP(t *testing.T) {
	newRequest := func(remoteAddr, xff string) *http.Request {
		r := &http.Request{RemoteAddr: remoteAddr, Header: http.Header{}}
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		return r
	}

	t.Run("remote addr", func(t *testing.T) {
		assert.Equal(t, "192.0.2.7", clientIP(newRequest("192.0.2.7:51234", "")))
	})

	t.Run("forwarded for", func(t *testing.T) {
		assert.Equal(t, "203.0.113.9", clientIP(newRequest("192.0.2.7:51234", "203.0.113.9")))
	})

	t.Run("forwarded chain keeps first hop", func(t *testing.T) {
		assert.Equal(t, "203.0.113.9", clientIP(newRequest("192.0.2.7:51234", "203.0.113.9, 198.51.100.2")))
	})

	t.Run("unparseable remote addr", func(t *testing.T) {
		assert.Equal(t, "bogus", clientIP(newRequest("bogus", "")))
	})
}
