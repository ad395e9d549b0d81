package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/match"
)

var (
	jonDoe = entry.Entry{
		"userId":      entry.String("jonDoe@microsoft.com"),
		"_clientId":   entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46"),
		"_authority":  entry.String("https://login.windows.net/common"),
		"resource":    entry.String("https://management.core.windows.net/"),
		"accessToken": entry.String("at-1"),
		"isMRRT":      entry.Bool(true),
	}
	janeDoe = entry.Entry{
		"userId":      entry.String("janeDoe@microsoft.com"),
		"_clientId":   entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46"),
		"_authority":  entry.String("https://login.windows.net/common"),
		"resource":    entry.String("https://graph.windows.net/"),
		"accessToken": entry.String("at-2"),
	}
	entries = entry.Set{jonDoe, janeDoe}
)

func TestFind(t *testing.T) {
	tests := []struct {
		name  string
		query entry.Entry
		want  entry.Set
	}{
		{
			name:  "empty query matches everything",
			query: entry.Entry{},
			want:  entry.Set{jonDoe, janeDoe},
		},
		{
			name: "userId compared case-insensitively",
			query: entry.Entry{
				"userId":     entry.String("jonDOE@microsoft.com"),
				"_clientId":  entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46"),
				"_authority": entry.String("https://login.windows.net/common"),
			},
			want: entry.Set{jonDoe},
		},
		{
			name: "other fields compared exactly",
			query: entry.Entry{
				"userId":     entry.String("jonDOE@microsoft.com"),
				"_authority": entry.String("https://login.windows.net/Common"),
			},
			want: entry.Set{},
		},
		{
			name:  "no userId skips the user filter",
			query: entry.Entry{"_clientId": entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46")},
			want:  entry.Set{jonDoe, janeDoe},
		},
		{
			name:  "field absent from entry",
			query: entry.Entry{"isMRRT": entry.Bool(true)},
			want:  entry.Set{jonDoe},
		},
		{
			name:  "wrong type never matches",
			query: entry.Entry{"isMRRT": entry.String("true")},
			want:  entry.Set{},
		},
		{
			name:  "non-string userId in query",
			query: entry.Entry{"userId": entry.Bool(true)},
			want:  entry.Set{},
		},
		{
			name:  "unknown field",
			query: entry.Entry{"tenantId": entry.String("72f988bf")},
			want:  entry.Set{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, match.Find(tt.query, entries))
		})
	}
}

func TestFindEmptyEntries(t *testing.T) {
	assert.Empty(t, match.Find(entry.Entry{"userId": entry.String("x")}, nil))
}

func TestMatches(t *testing.T) {
	assert.True(t, match.Matches(entry.Entry{"userId": entry.String("JANEDOE@microsoft.com")}, janeDoe))
	assert.False(t, match.Matches(entry.Entry{"userId": entry.String("JANEDOE@microsoft.com")}, jonDoe))
}

func TestFindUndefinedUserID(t *testing.T) {
	anonymous := entry.Entry{"resource": entry.String("https://graph.windows.net/")}
	unset := entry.Entry{"userId": entry.Value{}, "resource": entry.String("https://graph.windows.net/")}

	found := match.Find(entry.Entry{"userId": entry.Value{}}, entry.Set{anonymous, unset, jonDoe})
	assert.Equal(t, entry.Set{unset}, found, "userId must be present like any other query field")
}
