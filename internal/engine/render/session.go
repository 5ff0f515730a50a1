package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// storageState is the per-origin snapshot persistSession round-trips to
// disk: cookies plus a flat localStorage key/value map. Spec.md §4.3 also
// names "origins" as part of the snapshot; since one storage-state file is
// already scoped to a single origin, that field is implicit in the file
// path rather than repeated inside it.
type storageState struct {
	Origin       string            `json:"origin"`
	Cookies      []network.Cookie  `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage"`
}

// sessionPath returns the storage-state file path for origin, sanitized so
// the origin string can never escape sessionDir or collide across schemes.
func sessionPath(sessionDir, origin string) string {
	h := sha256.Sum256([]byte(origin))
	sanitized := strings.NewReplacer("://", "_", "/", "_", ":", "_").Replace(origin)
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	name := fmt.Sprintf("%s-%s.json", sanitized, hex.EncodeToString(h[:8]))
	return filepath.Join(sessionDir, name)
}

// loadStorageState reads and applies a previously persisted storage-state
// snapshot into browserCtx, if one exists. A missing file is not an error:
// the context simply starts fresh.
func loadStorageState(browserCtx context.Context, sessionDir, origin string) error {
	path := sessionPath(sessionDir, origin)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read storage state: %w", err)
	}

	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode storage state: %w", err)
	}

	if len(state.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(state.Cookies))
		for i := range state.Cookies {
			c := state.Cookies[i]
			params = append(params, &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: c.SameSite,
				Expires:  c.Expires,
			})
		}
		if err := chromedp.Run(browserCtx, network.SetCookies(params)); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}

	if len(state.LocalStorage) > 0 {
		script := localStorageRestoreScript(state.LocalStorage)
		var discard interface{}
		if err := chromedp.Run(browserCtx, chromedp.Evaluate(script, &discard)); err != nil {
			return fmt.Errorf("restore localStorage: %w", err)
		}
	}

	return nil
}

// saveStorageState captures the current cookies and localStorage for origin
// and writes them to sessionDir, overwriting any prior snapshot. Called on
// recycle, before the context is closed.
func saveStorageState(browserCtx context.Context, sessionDir, origin string) error {
	var cookies []network.Cookie
	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		result, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range result {
			cookies = append(cookies, *c)
		}
		return nil
	})); err != nil {
		return fmt.Errorf("capture cookies: %w", err)
	}

	localStorage := map[string]string{}
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(localStorageDumpScript, &localStorage)); err != nil {
		return fmt.Errorf("capture localStorage: %w", err)
	}

	state := storageState{Origin: origin, Cookies: cookies, LocalStorage: localStorage}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode storage state: %w", err)
	}

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	path := sessionPath(sessionDir, origin)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write storage state: %w", err)
	}
	return os.Rename(tmp, path)
}

const localStorageDumpScript = `Object.fromEntries(Object.entries(window.localStorage))`

func localStorageRestoreScript(kv map[string]string) string {
	data, _ := json.Marshal(kv)
	return fmt.Sprintf(`(() => {
		const entries = %s;
		for (const k in entries) { window.localStorage.setItem(k, entries[k]); }
	})()`, string(data))
}
