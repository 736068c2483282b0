package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// videoIDPattern matches a bare YouTube video id.
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID resolves a media reference out of user input: a bare video
// id, a watch URL, a youtu.be short link, or an embed/shorts path.
func ExtractVideoID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty media reference")
	}
	if videoIDPattern.MatchString(input) {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unrecognized media reference %q", input)
	}

	if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
		return id, nil
	}

	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	if videoIDPattern.MatchString(last) {
		return last, nil
	}
	return "", fmt.Errorf("no video id in %q", input)
}
