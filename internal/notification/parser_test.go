package notification

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ucb-deployer/internal/domain/build"
)

const validBody = `{
  "projectName": "MyGame",
  "buildTargetName": "mac-dev",
  "platform": "standaloneosxuniversal",
  "buildNumber": 42,
  "links": {
    "artifacts": [
      {"key": "symbols", "primary": false, "files": [{"href": "https://cdn/symbols.zip"}]},
      {"key": "primary", "primary": true, "files": [{"href": "https://cdn/game.zip"}, {"href": "https://cdn/other.zip"}]}
    ]
  }
}`

// TestParse_Valid checks field mapping including the primary artifact chosen out of order.
func TestParse_Valid(t *testing.T) {
	t.Parallel()

	ev, err := Parse(SuccessEvent, []byte(validBody))
	require.NoError(t, err)
	require.Equal(t, build.Event{
		ProjectName: "MyGame",
		TargetName:  "mac-dev",
		OS:          build.MacOS,
		ArchiveURL:  "https://cdn/game.zip",
		BuildNumber: 42,
	}, ev)
}

// TestParse_WrongEventType rejects other events even with a perfect body, and before decoding.
func TestParse_WrongEventType(t *testing.T) {
	t.Parallel()

	_, err := Parse("cloudBuild.failure", []byte(validBody))
	require.ErrorIs(t, err, ErrWrongEventType)
	require.ErrorIs(t, err, ErrParse)

	_, err = Parse("", []byte("not json"))
	require.ErrorIs(t, err, ErrWrongEventType)
	require.NotErrorIs(t, err, ErrMalformedPayload)
}

// TestParse_Malformed distinguishes undecodable bodies from wrong events.
func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Parse(SuccessEvent, []byte("{"))
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.NotErrorIs(t, err, ErrWrongEventType)
}

// TestParse_Platforms covers the closed platform table.
func TestParse_Platforms(t *testing.T) {
	t.Parallel()

	body := func(platform string) []byte {
		return []byte(`{"projectName":"p","buildTargetName":"t","platform":"` + platform +
			`","links":{"artifacts":[{"primary":true,"files":[{"href":"u"}]}]}}`)
	}

	ev, err := Parse(SuccessEvent, body("standalonewindows64"))
	require.NoError(t, err)
	require.Equal(t, build.Windows, ev.OS)

	for _, platform := range []string{"standalonelinux64", "ios", "android", "StandaloneOSXUniversal"} {
		_, err := Parse(SuccessEvent, body(platform))
		require.ErrorIs(t, err, ErrUnsupportedPlatform, platform)
	}
}

// TestParse_MissingData covers absent fields, names and artifacts.
func TestParse_MissingData(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body string
		want error
	}{
		"no project": {
			body: `{"buildTargetName":"t","platform":"standalonewindows64"}`,
			want: ErrMissingField,
		},
		"no platform": {
			body: `{"projectName":"p","buildTargetName":"t"}`,
			want: ErrMissingField,
		},
		"escaping target": {
			body: `{"projectName":"p","buildTargetName":"../etc","platform":"standalonewindows64"}`,
			want: ErrInvalidName,
		},
		"no artifacts": {
			body: `{"projectName":"p","buildTargetName":"t","platform":"standalonewindows64"}`,
			want: ErrNoBinaryURL,
		},
		"no primary": {
			body: `{"projectName":"p","buildTargetName":"t","platform":"standalonewindows64",` +
				`"links":{"artifacts":[{"primary":false,"files":[{"href":"u"}]}]}}`,
			want: ErrNoBinaryURL,
		},
		"primary without files": {
			body: `{"projectName":"p","buildTargetName":"t","platform":"standalonewindows64",` +
				`"links":{"artifacts":[{"primary":true,"files":[]}]}}`,
			want: ErrNoBinaryURL,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(SuccessEvent, []byte(tc.body))
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := Parse(SuccessEvent, []byte(`{"projectName":"p","buildTargetName":"..","platform":"x"}`))
	require.ErrorIs(t, err, ErrMissingField)
}

// TestParse_MissingFieldsReportedInOrder names the first absent field every time.
func TestParse_MissingFieldsReportedInOrder(t *testing.T) {
	t.Parallel()

	for range 20 {
		_, err := Parse(SuccessEvent, []byte(`{"platform":""}`))
		require.ErrorIs(t, err, ErrMissingField)
		require.ErrorContains(t, err, "projectName")
		require.NotContains(t, err.Error(), "buildTargetName")
	}

	_, err := Parse(SuccessEvent, []byte(`{"projectName":"p"}`))
	require.ErrorContains(t, err, "buildTargetName")
}
