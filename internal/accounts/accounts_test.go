package accounts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadLinesSkipsBlankAndTrims(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "token.txt", "  tok-a  \n\n\r\ntok-b\r\n   \ntok-c")

	got, err := LoadLines(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b", "tok-c"}, got)
}

func TestLoadLinesMissingFile(t *testing.T) {
	_, err := LoadLines(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSourceRereadsOnEveryLoad(t *testing.T) {
	dir := t.TempDir()
	src := FileSource{
		TokensPath:  writeFile(t, dir, "token.txt", "t1\n"),
		ProxiesPath: writeFile(t, dir, "proxies.txt", "http://p1:8080\n"),
	}

	tokens, proxies, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, tokens)
	assert.Equal(t, []string{"http://p1:8080"}, proxies)

	writeFile(t, dir, "token.txt", "t1\nt2\n")
	writeFile(t, dir, "proxies.txt", "http://p1:8080\nsocks5://p2:1080\n")

	tokens, proxies, err = src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tokens)
	assert.Equal(t, []string{"http://p1:8080", "socks5://p2:1080"}, proxies)
}

func TestFileSourceFailsWhenOneFileMissing(t *testing.T) {
	dir := t.TempDir()
	src := FileSource{
		TokensPath:  writeFile(t, dir, "token.txt", "t1\n"),
		ProxiesPath: filepath.Join(dir, "proxies.txt"),
	}
	_, _, err := src.Load(context.Background())
	require.Error(t, err)
}

func TestPairByIndex(t *testing.T) {
	got, err := Pair("tick-1", []string{"a", "b"}, []string{"pa", "pb"})
	require.NoError(t, err)
	assert.Equal(t, []Binding{
		{TickID: "tick-1", Index: 0, Credential: "a", Proxy: "pa"},
		{TickID: "tick-1", Index: 1, Credential: "b", Proxy: "pb"},
	}, got)
}

func TestPairMismatch(t *testing.T) {
	got, err := Pair("tick-1", []string{"a", "b", "c"}, []string{"pa"})
	assert.Nil(t, got)

	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 3, me.Tokens)
	assert.Equal(t, 1, me.Proxies)
}

func TestPairEmpty(t *testing.T) {
	got, err := Pair("tick-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
