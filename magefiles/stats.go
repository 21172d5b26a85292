//go:build mage

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// statRoots are the source trees counted by Stats.
var statRoots = []string{"cmd", "internal", "pkg"}

// statDocs are the project documents whose words Stats reports.
var statDocs = map[string]string{
	"design": "DESIGN.md",
	"spec":   "SPEC_FULL.md",
	"readme": "README.md",
}

// packageLines counts one package's Go lines.
type packageLines struct {
	Package string `json:"package"`
	Prod    int    `json:"prod"`
	Test    int    `json:"test"`
}

// Stats prints Go lines per package and documentation word counts as JSON.
func Stats() error {
	byPkg := map[string]*packageLines{}
	for _, root := range statRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}
			n, err := countLines(path)
			if err != nil {
				return err
			}
			dir := filepath.ToSlash(filepath.Dir(path))
			pl, ok := byPkg[dir]
			if !ok {
				pl = &packageLines{Package: dir}
				byPkg[dir] = pl
			}
			if strings.HasSuffix(path, "_test.go") {
				pl.Test += n
			} else {
				pl.Prod += n
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("counting %s: %w", root, err)
		}
	}

	pkgs := make([]packageLines, 0, len(byPkg))
	var prod, test int
	for _, pl := range byPkg {
		pkgs = append(pkgs, *pl)
		prod += pl.Prod
		test += pl.Test
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Package < pkgs[j].Package })

	docs := map[string]int{}
	for name, path := range statDocs {
		n, err := countWords(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		docs[name] = n
	}

	record := struct {
		Packages []packageLines `json:"packages"`
		ProdLOC  int            `json:"go_loc_prod"`
		TestLOC  int            `json:"go_loc_test"`
		DocWords map[string]int `json:"doc_wc"`
	}{pkgs, prod, test, docs}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

func countWords(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return len(strings.Fields(string(data))), nil
}
