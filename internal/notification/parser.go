package notification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oshokin/ucb-deployer/internal/domain/build"
)

// SuccessEvent is the X-Unity-Event value of a finished build.
const SuccessEvent = "cloudBuild.success"

var (
	// ErrParse is the parent of every error returned by Parse.
	ErrParse = errors.New("notification rejected")
	// ErrWrongEventType marks deliveries for events other than SuccessEvent.
	ErrWrongEventType = fmt.Errorf("%w: unexpected event type", ErrParse)
	// ErrMalformedPayload marks bodies that are not the expected JSON.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrParse)
	// ErrMissingField marks payloads lacking a required field.
	ErrMissingField = fmt.Errorf("%w: missing field", ErrParse)
	// ErrInvalidName marks project or target names unusable as directory names.
	ErrInvalidName = fmt.Errorf("%w: invalid name", ErrMissingField)
	// ErrNoBinaryURL marks payloads without a primary artifact file.
	ErrNoBinaryURL = fmt.Errorf("%w: no primary artifact", ErrParse)
	// ErrUnsupportedPlatform marks platforms outside the supported set.
	ErrUnsupportedPlatform = fmt.Errorf("%w: unsupported platform", ErrParse)
)

// platforms maps UCB platform identifiers to OS kinds.
//
//nolint:gochecknoglobals // Closed lookup table.
var platforms = map[string]build.OSKind{
	"standaloneosxuniversal": build.MacOS,
	"standalonewindows64":    build.Windows,
}

type payload struct {
	ProjectName     string `json:"projectName"`
	BuildTargetName string `json:"buildTargetName"`
	Platform        string `json:"platform"`
	BuildNumber     int    `json:"buildNumber"`
	Links           struct {
		Artifacts []artifact `json:"artifacts"`
	} `json:"links"`
}

type artifact struct {
	Key     string `json:"key"`
	Primary bool   `json:"primary"`
	Files   []struct {
		Filename string `json:"filename"`
		Href     string `json:"href"`
	} `json:"files"`
}

// Parse turns a webhook delivery into a build event.
// The event type is checked before the body is decoded.
func Parse(eventType string, body []byte) (build.Event, error) {
	if eventType != SuccessEvent {
		return build.Event{}, fmt.Errorf("%w: %q", ErrWrongEventType, eventType)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return build.Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	for _, required := range []struct{ field, value string }{
		{"projectName", p.ProjectName},
		{"buildTargetName", p.BuildTargetName},
		{"platform", p.Platform},
	} {
		if required.value == "" {
			return build.Event{}, fmt.Errorf("%w: %s", ErrMissingField, required.field)
		}
	}

	if !build.ValidName(p.ProjectName) {
		return build.Event{}, fmt.Errorf("%w: projectName %q", ErrInvalidName, p.ProjectName)
	}

	if !build.ValidName(p.BuildTargetName) {
		return build.Event{}, fmt.Errorf("%w: buildTargetName %q", ErrInvalidName, p.BuildTargetName)
	}

	url, err := primaryURL(p.Links.Artifacts)
	if err != nil {
		return build.Event{}, err
	}

	kind, ok := platforms[p.Platform]
	if !ok {
		return build.Event{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p.Platform)
	}

	return build.Event{
		ProjectName: p.ProjectName,
		TargetName:  p.BuildTargetName,
		OS:          kind,
		ArchiveURL:  url,
		BuildNumber: p.BuildNumber,
	}, nil
}

func primaryURL(artifacts []artifact) (string, error) {
	for _, a := range artifacts {
		if !a.Primary {
			continue
		}

		if len(a.Files) == 0 || a.Files[0].Href == "" {
			return "", fmt.Errorf("%w: primary artifact %q has no file", ErrNoBinaryURL, a.Key)
		}

		return a.Files[0].Href, nil
	}

	return "", ErrNoBinaryURL
}
