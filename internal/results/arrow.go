package results

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Schema metadata keys of an exported region table.
const (
	metaRegion   = "region"
	metaRegionID = "region_id"
)

// Exported is a region table read back from Arrow IPC.
type Exported struct {
	Region   string
	RegionID int
	Runs     []ExportedRun
}

// ExportedRun is one run's rows of an exported table.
type ExportedRun struct {
	Folder string
	B      float64
	Series Series
}

func exportSchema(region string, id int) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{metaRegion, metaRegionID},
		[]string{region, strconv.Itoa(id)},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "run", Type: arrow.BinaryTypes.String},
		{Name: "b", Type: arrow.PrimitiveTypes.Float64},
		{Name: "time_s", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exc_hz", Type: arrow.PrimitiveTypes.Float64},
		{Name: "inh_hz", Type: arrow.PrimitiveTypes.Float64},
		{Name: "adaptation_na", Type: arrow.PrimitiveTypes.Float64},
	}, &md)
}

// WriteArrow writes region id of every trace as an Arrow IPC stream, one
// record batch per run, in long format.
func WriteArrow(w io.Writer, traces []Trace, region string, id int) error {
	mem := memory.NewGoAllocator()
	schema := exportSchema(region, id)

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	for i := range traces {
		s, err := traces[i].Region(id)
		if err != nil {
			writer.Close()
			return err
		}
		if err := writeBatch(writer, mem, schema, traces[i], s); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing arrow stream: %w", err)
	}
	return nil
}

func writeBatch(writer *ipc.Writer, mem memory.Allocator, schema *arrow.Schema, tr Trace, s Series) error {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	n := len(s.Time)
	runs := make([]string, n)
	bs := make([]float64, n)
	for i := range runs {
		runs[i] = tr.Run.Folder
		bs[i] = tr.Run.B
	}
	b.Field(0).(*array.StringBuilder).AppendValues(runs, nil)
	b.Field(1).(*array.Float64Builder).AppendValues(bs, nil)
	b.Field(2).(*array.Float64Builder).AppendValues(s.Time, nil)
	b.Field(3).(*array.Float64Builder).AppendValues(s.Exc, nil)
	b.Field(4).(*array.Float64Builder).AppendValues(s.Inh, nil)
	b.Field(5).(*array.Float64Builder).AppendValues(s.Adaptation, nil)

	rec := b.NewRecord()
	defer rec.Release()
	if err := writer.Write(rec); err != nil {
		return fmt.Errorf("writing batch for %s: %w", tr.Run.Folder, err)
	}
	return nil
}

// ReadArrow reads a stream written by WriteArrow. Rows of the same run are
// regrouped in stream order.
func ReadArrow(r io.Reader) (*Exported, error) {
	mem := memory.NewGoAllocator()
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("opening arrow stream: %w", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	if schema.NumFields() != 6 {
		return nil, fmt.Errorf("unexpected arrow schema with %d fields", schema.NumFields())
	}
	out := &Exported{}
	md := schema.Metadata()
	if i := md.FindKey(metaRegion); i >= 0 {
		out.Region = md.Values()[i]
	}
	if i := md.FindKey(metaRegionID); i >= 0 {
		id, err := strconv.Atoi(md.Values()[i])
		if err != nil {
			return nil, fmt.Errorf("bad region_id metadata: %w", err)
		}
		out.RegionID = id
	}

	index := make(map[string]int)
	for reader.Next() {
		rec := reader.Record()
		runs, ok := rec.Column(0).(*array.String)
		if !ok {
			return nil, fmt.Errorf("run column has type %s", rec.Column(0).DataType())
		}
		cols := make([]*array.Float64, 5)
		for c := range cols {
			col, ok := rec.Column(c + 1).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("column %s has type %s", schema.Field(c+1).Name, rec.Column(c+1).DataType())
			}
			cols[c] = col
		}

		for row := 0; row < int(rec.NumRows()); row++ {
			folder := runs.Value(row)
			k, seen := index[folder]
			if !seen {
				k = len(out.Runs)
				index[folder] = k
				out.Runs = append(out.Runs, ExportedRun{Folder: folder, B: cols[0].Value(row)})
			}
			s := &out.Runs[k].Series
			s.Time = append(s.Time, cols[1].Value(row))
			s.Exc = append(s.Exc, cols[2].Value(row))
			s.Inh = append(s.Inh, cols[3].Value(row))
			s.Adaptation = append(s.Adaptation, cols[4].Value(row))
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("reading arrow stream: %w", err)
	}
	return out, nil
}
