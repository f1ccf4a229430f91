package connectome

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// File names inside a connectivity directory.
const (
	WeightsFile      = "weights.txt"
	TractLengthsFile = "tract_lengths.txt"
	CentresFile      = "centres.txt"
)

// scanRecords calls fn with the whitespace-separated fields of every
// non-blank, non-comment line of path. lineNo is 1-based.
func scanRecords(path string, fn func(lineNo int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := fn(lineNo, fields); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readMatrix parses a plain-text matrix. Rows may not be ragged.
func readMatrix(path string) ([][]float64, error) {
	var rows [][]float64
	err := scanRecords(path, func(lineNo int, fields []string) error {
		row := make([]float64, len(fields))
		for i, tok := range fields {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return fmt.Errorf("line %d column %d: %w", lineNo, i+1, err)
			}
			row[i] = v
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return fmt.Errorf("%w: line %d has %d columns, expected %d",
				ErrShapeMismatch, lineNo, len(row), len(rows[0]))
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// readCentres parses the region table: a name token followed by three
// coordinates per line.
func readCentres(path string) ([]Region, error) {
	var regions []Region
	err := scanRecords(path, func(lineNo int, fields []string) error {
		if len(fields) != 4 {
			return fmt.Errorf("line %d: expected name and 3 coordinates, got %d fields", lineNo, len(fields))
		}
		r := Region{Name: fields[0]}
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return fmt.Errorf("line %d coordinate %d: %w", lineNo, i+1, err)
			}
			r.Coords[i] = v
		}
		regions = append(regions, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return regions, nil
}

// writeMatrix writes m in numpy savetxt's default layout (%.18e, space
// delimited).
func writeMatrix(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	r, c := m.Dims()
	buf := make([]byte, 0, 32)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				w.WriteByte(' ')
			}
			buf = strconv.AppendFloat(buf[:0], m.At(i, j), 'e', 18, 64)
			w.Write(buf)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCentres(path string, regions []Region) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range regions {
		fmt.Fprintf(w, "%s %s %s %s\n", r.Name,
			strconv.FormatFloat(r.Coords[0], 'g', -1, 64),
			strconv.FormatFloat(r.Coords[1], 'g', -1, 64),
			strconv.FormatFloat(r.Coords[2], 'g', -1, 64))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
