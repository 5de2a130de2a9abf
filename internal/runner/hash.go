package runner

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const hashRecordFile = ".script_hash.csv"

var importLine = regexp.MustCompile(`(?m)^\s*(?:from\s+(\w+)\s+import|import\s+(\w+))`)

// siblingImports extracts module names the script imports; siblings living
// in the scripts directory count toward the script's hash.
func siblingImports(src []byte) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range importLine.FindAllSubmatch(src, -1) {
		name := string(m[1])
		if name == "" {
			name = string(m[2])
		}
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// findSibling locates a file in dir whose stem matches name.
func findSibling(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if stem == name {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// ScriptPath verifies the strategy script exists and returns its path.
func ScriptPath(scriptsDir, scriptName string) (string, error) {
	path := filepath.Join(scriptsDir, scriptName)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// ScriptHash hashes the script plus any sibling modules it imports, so an
// edit anywhere in the strategy's source triggers a rerun.
func ScriptHash(scriptsDir, scriptName string) (string, error) {
	src, err := os.ReadFile(filepath.Join(scriptsDir, scriptName))
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(src)
	for _, name := range siblingImports(src) {
		if path, ok := findSibling(scriptsDir, name); ok {
			if data, err := os.ReadFile(path); err == nil {
				h.Write(data)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadStoredHash returns the recorded hash for the script, if any.
func LoadStoredHash(scriptsDir, scriptName string) (string, bool) {
	f, err := os.Open(filepath.Join(scriptsDir, hashRecordFile))
	if err != nil {
		return "", false
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return "", false
	}
	for _, row := range rows {
		if len(row) == 2 && row[0] == scriptName {
			return row[1], true
		}
	}
	return "", false
}

// StoreHash records the hash, preserving entries for other scripts.
func StoreHash(scriptsDir, scriptName, hash string) error {
	path := filepath.Join(scriptsDir, hashRecordFile)

	var rows [][]string
	if f, err := os.Open(path); err == nil {
		rows, _ = csv.NewReader(f).ReadAll()
		f.Close()
	}

	out := [][]string{{scriptName, hash}}
	for _, row := range rows {
		if len(row) == 2 && row[0] != scriptName {
			out = append(out, row)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(out); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
