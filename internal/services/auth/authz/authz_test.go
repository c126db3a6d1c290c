package authz

import (
	"net/http"
	"testing"
)

type createdByObject struct{ creator string }

func (o createdByObject) CreatedBy() string { return o.creator }

type authoredObject struct{ author string }

func (o authoredObject) Author() string { return o.author }

type memberObject struct{ member string }

func (o memberObject) MemberPrincipal() string { return o.member }

type multiAttributeObject struct {
	creator string
	author  string
}

func (o multiAttributeObject) CreatedBy() string { return o.creator }
func (o multiAttributeObject) Author() string    { return o.author }

type bareObject struct{}

func TestMayModify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		principalID string
		object      any
		method      string
		want        bool
	}{
		{
			name:        "safe method always allowed",
			principalID: "stranger",
			object:      createdByObject{creator: "owner"},
			method:      http.MethodGet,
			want:        true,
		},
		{
			name:        "head allowed without ownership",
			principalID: "",
			object:      bareObject{},
			method:      http.MethodHead,
			want:        true,
		},
		{
			name:        "options allowed without ownership",
			principalID: "stranger",
			object:      nil,
			method:      http.MethodOptions,
			want:        true,
		},
		{
			name:        "creator may mutate",
			principalID: "owner",
			object:      createdByObject{creator: "owner"},
			method:      http.MethodPut,
			want:        true,
		},
		{
			name:        "non creator may not mutate",
			principalID: "stranger",
			object:      createdByObject{creator: "owner"},
			method:      http.MethodDelete,
			want:        false,
		},
		{
			name:        "author may mutate",
			principalID: "writer",
			object:      authoredObject{author: "writer"},
			method:      http.MethodPost,
			want:        true,
		},
		{
			name:        "owning member may mutate",
			principalID: "member-1",
			object:      memberObject{member: "member-1"},
			method:      http.MethodPatch,
			want:        true,
		},
		{
			name:        "creator wins over author when both present",
			principalID: "writer",
			object:      multiAttributeObject{creator: "owner", author: "writer"},
			method:      http.MethodPut,
			want:        false,
		},
		{
			name:        "object without ownership denies mutation",
			principalID: "anyone",
			object:      bareObject{},
			method:      http.MethodPost,
			want:        false,
		},
		{
			name:        "empty principal denies mutation",
			principalID: "",
			object:      createdByObject{creator: ""},
			method:      http.MethodPut,
			want:        false,
		},
		{
			name:        "lowercase method is normalized",
			principalID: "stranger",
			object:      createdByObject{creator: "owner"},
			method:      "get",
			want:        true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := MayModify(tc.principalID, tc.object, tc.method); got != tc.want {
				t.Fatalf("MayModify(%q, %T, %q) = %v, want %v", tc.principalID, tc.object, tc.method, got, tc.want)
			}
		})
	}
}
