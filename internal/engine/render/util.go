package render

import (
	"os"
	"strconv"
	"strings"
)

func processSelfPID() int {
	return os.Getpid()
}

// viewportWidth/viewportHeight parse a "WxH" viewport string, defaulting to
// 1366x768 on any malformed input.
const (
	defaultViewportWidth  = 1366
	defaultViewportHeight = 768
)

func viewportWidth(spec string) int {
	w, _ := parseViewport(spec)
	return w
}

func viewportHeight(spec string) int {
	_, h := parseViewport(spec)
	return h
}

func parseViewport(spec string) (int, int) {
	parts := strings.SplitN(spec, "x", 2)
	if len(parts) != 2 {
		return defaultViewportWidth, defaultViewportHeight
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return defaultViewportWidth, defaultViewportHeight
	}
	return w, h
}
