// Package accounts loads bearer credentials and proxy endpoints from
// line-oriented files and pairs them by position.
package accounts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Binding pairs one credential with the proxy at the same list position.
// It lives for a single tick.
type Binding struct {
	TickID     string
	Index      int
	Credential string
	Proxy      string
}

// MismatchError reports credential and proxy lists of different lengths.
type MismatchError struct {
	Tokens  int
	Proxies int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("the number of tokens (%d) and proxies (%d) do not match", e.Tokens, e.Proxies)
}

// Source provides fresh credential and proxy lists for each tick.
type Source interface {
	Load(ctx context.Context) (tokens, proxies []string, err error)
}

// FileSource reads tokens and proxies from two text files, one entry per line.
type FileSource struct {
	TokensPath  string
	ProxiesPath string
}

func (s FileSource) Load(ctx context.Context) ([]string, []string, error) {
	var tokens, proxies []string
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tokens, err = LoadLines(s.TokensPath)
		return err
	})
	g.Go(func() error {
		var err error
		proxies, err = LoadLines(s.ProxiesPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tokens, proxies, nil
}

// LoadLines returns the trimmed, non-blank lines of path in file order.
func LoadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	// Bearer tokens can be long; allow up to 1 MiB per line.
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Pair binds tokens[i] to proxies[i]. Lists of unequal length yield a
// *MismatchError and no bindings.
func Pair(tickID string, tokens, proxies []string) ([]Binding, error) {
	if len(tokens) != len(proxies) {
		return nil, &MismatchError{Tokens: len(tokens), Proxies: len(proxies)}
	}
	out := make([]Binding, len(tokens))
	for i := range tokens {
		out[i] = Binding{TickID: tickID, Index: i, Credential: tokens[i], Proxy: proxies[i]}
	}
	return out, nil
}
