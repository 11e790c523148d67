package api

import "testing"

func TestBearerTokenFromString(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer aa.bb.cc", want: "aa.bb.cc"},
		{name: "surroundingSpaces", header: "  Bearer aa.bb.cc  ", want: "aa.bb.cc"},
		{name: "empty", header: "", wantErr: errMissingAuthorization},
		{name: "spacesOnly", header: "   ", wantErr: errMissingAuthorization},
		{name: "missingPrefix", header: "aa.bb.cc", wantErr: errBadAuthorization},
		{name: "wrongScheme", header: "Basic aa.bb.cc", wantErr: errBadAuthorization},
		{name: "notAJWT", header: "Bearer opaque-token", wantErr: errBadAuthorization},
		{name: "prefixOnly", header: "Bearer ", wantErr: errBadAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerTokenFromString(tt.header)
			if err != tt.wantErr {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}
