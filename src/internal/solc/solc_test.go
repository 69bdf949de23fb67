package solc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompilerVersion(t *testing.T) {
	cases := []struct {
		name, explorer, source string
		want                   CompilerVersion
	}{
		{"solidity commit", "v0.8.19+commit.7dd6d404", "", CompilerVersion{LanguageSolidity, "v0.8.19"}},
		{"vyper", "vyper:0.3.7", "", CompilerVersion{LanguageVyper, "0.3.7"}},
		{"vyper without version", "vyper", "", CompilerVersion{LanguageVyper, Latest}},
		{"pragma fallback", "", "pragma solidity ^0.6.12;\ncontract A {}", CompilerVersion{LanguageSolidity, "v0.6.12"}},
		{"highest pragma", "", "pragma solidity ^0.5.0;\npragma solidity 0.7.6;", CompilerVersion{LanguageSolidity, "v0.7.6"}},
		{"nothing", "unknown", "contract A {}", CompilerVersion{LanguageSolidity, Latest}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCompilerVersion(tc.explorer, tc.source))
		})
	}
}

func TestExtractPragmaVersion(t *testing.T) {
	assert.Equal(t, "0.7.6", ExtractPragmaVersion("pragma solidity >=0.6.0 <0.8.0;"))
	assert.Equal(t, "0.8.4", ExtractPragmaVersion("pragma solidity >=0.8.0 <=0.8.4;"))
	assert.Equal(t, "0.4.0", ExtractPragmaVersion("pragma solidity ^0.4;"))
	assert.Equal(t, "", ExtractPragmaVersion("contract A {}"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, CompareVersions("0.8.10", "0.8.9"))
	assert.Equal(t, -1, CompareVersions("v0.4.26", "0.5.0"))
	assert.Equal(t, 0, CompareVersions("0.8", "0.8.0"))
}

func TestManagerFindsSolcSelectArtifact(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".solc-select", "artifacts", "solc-0.8.19")
	require.NoError(t, os.MkdirAll(dir, 0755))
	bin := filepath.Join(dir, "solc-0.8.19")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	m := NewManager()
	m.HomeDir = home
	m.SelectBinary = "definitely-not-installed-solc-select"

	path, err := m.GetSolcPath(context.Background(), "v0.8.19+commit.7dd6d404")
	require.NoError(t, err)
	assert.Equal(t, bin, path)

	_, err = m.GetSolcPath(context.Background(), "0.5.17")
	assert.Error(t, err)
}
