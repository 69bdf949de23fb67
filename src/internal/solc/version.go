package solc

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	LanguageSolidity = "solidity"
	LanguageVyper    = "vyper"
	// Latest is used when no version can be recovered.
	Latest = "latest"
)

var (
	explorerVersionRe = regexp.MustCompile(`v\d+\.\d+\.\d+`)
	pragmaRe          = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	pragmaVersionRe   = regexp.MustCompile(`(\d+\.\d+)(?:\.(\d+))?`)
	upperBoundRe      = regexp.MustCompile(`(<=|<)\s*(\d+)\.(\d+)(?:\.(\d+))?`)
)

// CompilerVersion is the language and compiler release of verified source.
type CompilerVersion struct {
	Language string
	Version  string
}

// ParseCompilerVersion interprets the explorer's CompilerVersion field,
// falling back to the pragma of source. "vyper:0.3.7" yields vyper 0.3.7,
// "v0.8.19+commit.7dd6d404" yields solidity v0.8.19.
func ParseCompilerVersion(explorerVersion, source string) CompilerVersion {
	explorerVersion = strings.TrimSpace(explorerVersion)
	if strings.HasPrefix(strings.ToLower(explorerVersion), "vyper") {
		version := Latest
		if _, after, ok := strings.Cut(explorerVersion, ":"); ok && strings.TrimSpace(after) != "" {
			version = strings.TrimSpace(after)
		}
		return CompilerVersion{Language: LanguageVyper, Version: version}
	}
	if m := explorerVersionRe.FindString(explorerVersion); m != "" {
		return CompilerVersion{Language: LanguageSolidity, Version: m}
	}
	if v := ExtractPragmaVersion(source); v != "" {
		return CompilerVersion{Language: LanguageSolidity, Version: "v" + v}
	}
	return CompilerVersion{Language: LanguageSolidity, Version: Latest}
}

// ExtractPragmaVersion returns the highest version admitted by the pragma
// declarations of source, or "" when there are none.
func ExtractPragmaVersion(code string) string {
	allMatches := pragmaRe.FindAllStringSubmatch(code, -1)
	if len(allMatches) == 0 {
		return ""
	}

	var versions []string
	for _, matches := range allMatches {
		versionStr := strings.TrimSpace(matches[1])
		if picked := pickVersionFromConstraint(versionStr); picked != "" {
			versions = append(versions, picked)
			continue
		}
		for _, vm := range pragmaVersionRe.FindAllStringSubmatch(versionStr, -1) {
			if vm[2] != "" {
				versions = append(versions, vm[1]+"."+vm[2])
			} else {
				versions = append(versions, vm[1]+".0")
			}
		}
	}

	if len(versions) == 0 {
		return ""
	}

	maxVersion := versions[0]
	for _, v := range versions[1:] {
		if CompareVersions(v, maxVersion) > 0 {
			maxVersion = v
		}
	}
	return maxVersion
}

// pickVersionFromConstraint resolves an upper bound such as "<0.8.0" to the
// last release below it.
func pickVersionFromConstraint(versionStr string) string {
	m := upperBoundRe.FindStringSubmatch(versionStr)
	if m == nil {
		return ""
	}
	op := m[1]
	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])
	if op == "<=" {
		if m[4] != "" {
			return m[2] + "." + m[3] + "." + m[4]
		}
		return m[2] + "." + m[3] + ".0"
	}
	if major == 0 {
		switch minor {
		case 8:
			return "0.7.6"
		case 7:
			return "0.6.12"
		case 6:
			return "0.5.17"
		case 5:
			return "0.4.26"
		}
	}
	return ""
}

func CompareVersions(v1, v2 string) int {
	parts1 := strings.Split(strings.TrimPrefix(v1, "v"), ".")
	parts2 := strings.Split(strings.TrimPrefix(v2, "v"), ".")

	for i := 0; i < 3; i++ {
		var p1, p2 int
		if i < len(parts1) {
			p1, _ = strconv.Atoi(parts1[i])
		}
		if i < len(parts2) {
			p2, _ = strconv.Atoi(parts2[i])
		}

		if p1 > p2 {
			return 1
		} else if p1 < p2 {
			return -1
		}
	}

	return 0
}
