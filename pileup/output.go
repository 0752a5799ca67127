// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/luapileup/luafilter"
)

// convertRowsToTSV reads the per-worker recordio files back in worker order
// and writes the final TSV.  Workers own contiguous ascending region ranges,
// so plain concatenation yields globally sorted rows.  The column predicate,
// when configured, runs here, on the single drain goroutine; position
// columns are 0-based, matching the pos0 header.
func convertRowsToTSV(ctx context.Context, tmpFiles []*os.File, refNames []string, pileProg *luafilter.Program, opts *Opts) (err error) {
	var ev *luafilter.Evaluator
	if pileProg != nil {
		if ev, err = luafilter.NewEvaluator(nil, pileProg); err != nil {
			return
		}
		defer ev.Close()
	}

	var out io.Writer = os.Stdout
	bgzip := false
	if opts.OutPath != "" {
		var dst file.File
		if dst, err = file.Create(ctx, opts.OutPath); err != nil {
			return
		}
		defer file.CloseAndReport(ctx, dst, &err)
		out = dst.Writer(ctx)
		bgzip = strings.HasSuffix(opts.OutPath, ".gz")
	}
	var w *tsv.Writer
	if !bgzip {
		w = tsv.NewWriter(out)
	} else {
		bgzfWriter := bgzf.NewWriter(out, opts.Parallelism)
		w = tsv.NewWriter(bgzfWriter)
		defer func() {
			if e := bgzfWriter.Close(); e != nil && err == nil {
				err = e
			}
		}()
	}
	w.WriteString("#chrom\tpos0\tref_base\tdepth\ta\tc\tg\tt\tn")
	if opts.Counts {
		w.WriteString("ins\tdel\tref_skip\tfail")
	}
	if err = w.EndLine(); err != nil {
		return
	}

	nRow := 0
	for i, f := range tmpFiles {
		if _, err = f.Seek(0, 0); err != nil {
			return
		}
		scanner := recordio.NewScanner(f, recordio.ScannerOpts{
			Unmarshal: unmarshalRow,
		})
		for scanner.Scan() {
			row := scanner.Get().(*Row)
			if ev != nil {
				pv := luafilter.PileView{
					Pos:     int(row.Pos),
					Depth:   row.Depth,
					A:       row.Counts[BaseA],
					C:       row.Counts[BaseC],
					G:       row.Counts[BaseG],
					T:       row.Counts[BaseT],
					N:       row.Counts[BaseX],
					Fail:    row.Fail,
					Ins:     row.Ins,
					Del:     row.Del,
					RefSkip: row.RefSkip,
					RefBase: row.Ref,
				}
				var keep bool
				if keep, err = ev.EvalPile(&pv); err != nil {
					return
				}
				if !keep {
					continue
				}
			}
			w.WriteString(refNames[row.RefID])
			w.WriteUint32(row.Pos)
			w.WriteString(row.Ref)
			w.WriteUint32(row.Depth)
			w.WriteUint32(row.Counts[BaseA])
			w.WriteUint32(row.Counts[BaseC])
			w.WriteUint32(row.Counts[BaseG])
			w.WriteUint32(row.Counts[BaseT])
			w.WriteUint32(row.Counts[BaseX])
			if opts.Counts {
				w.WriteUint32(row.Ins)
				w.WriteUint32(row.Del)
				w.WriteUint32(row.RefSkip)
				w.WriteUint32(row.Fail)
			}
			if err = w.EndLine(); err != nil {
				return
			}
			nRow++
		}
		if err = scanner.Err(); err != nil {
			return
		}
		curPath := f.Name()
		if err = f.Close(); err != nil {
			return
		}
		tmpFiles[i] = nil
		// os.Remove returns an error if we try to remove a file that isn't there.
		_ = os.Remove(curPath)
	}
	if err = w.Flush(); err != nil {
		return
	}
	if opts.OutPath != "" {
		log.Printf("convertRowsToTSV: done, %d row(s) written to %s", nRow, opts.OutPath)
	} else {
		log.Printf("convertRowsToTSV: done, %d row(s) written", nRow)
	}
	return
}
