package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// WriteTreeFile walks archiveDir and writes a text directory tree of the saved files to outputFilePath.
// Entries whose name starts with "." (resume state, temp files) are left out.
func WriteTreeFile(archiveDir, outputFilePath string, log *logrus.Entry) error {
	info, err := os.Stat(archiveDir)
	if err != nil {
		return fmt.Errorf("%w: stat archive dir '%s': %w", ErrFilesystem, archiveDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: '%s' is not a directory", ErrFilesystem, archiveDir)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	header := fmt.Sprintf("Saved files under: %s", archiveDir)
	fmt.Fprintf(writer, "%s\n%s\n\n%s/\n", header, strings.Repeat("=", len(header)), filepath.Base(archiveDir))

	files, err := writeTreeLevel(writer, archiveDir, "", outputFilePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(writer, "\n%d file(s)\n", files)
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	log.Debugf("Wrote tree of %d file(s) to %s", files, outputFilePath)
	return nil
}

// writeTreeLevel writes one directory level and recurses into subdirectories. Returns the number of files written.
func writeTreeLevel(w io.Writer, dirPath, indent, skipPath string) (int, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, fmt.Errorf("%w: read dir '%s': %w", ErrFilesystem, dirPath, err)
	}
	entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool {
		return strings.HasPrefix(e.Name(), ".") || filepath.Join(dirPath, e.Name()) == skipPath
	})
	// Directories first, then by name
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name(), b.Name())
	})

	files := 0
	for i, entry := range entries {
		isLast := i == len(entries)-1
		prefix, nextIndent := entryPrefix, indent+verticalLine
		if isLast {
			prefix, nextIndent = lastEntryPrefix, indent+indentPrefix
		}
		if !entry.IsDir() {
			fmt.Fprintf(w, "%s%s%s\n", indent, prefix, entry.Name())
			files++
			continue
		}
		fmt.Fprintf(w, "%s%s%s/\n", indent, prefix, entry.Name())
		n, err := writeTreeLevel(w, filepath.Join(dirPath, entry.Name()), nextIndent, skipPath)
		if err != nil {
			return files, err
		}
		files += n
	}
	return files, nil
}
