package bamprovider

import (
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// BuildIndex reads the BAM file at bamPath and writes a BAI-format index for
// it to baiPath. Both paths may be S3 URLs, as elsewhere in this package.
//
// REQUIRES: the BAM file is sorted by position.
func BuildIndex(bamPath, baiPath string) (err error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return err
	}
	var idx bam.Index
	for {
		var rec *sam.Record
		rec, err = reader.Read()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return err
		}
		// LastChunk is only valid until the next Read, so record it now.
		if err = idx.Add(rec, reader.LastChunk()); err != nil {
			return err
		}
		sam.PutInFreePool(rec)
	}
	if err = reader.Close(); err != nil {
		return err
	}
	out, err := file.Create(ctx, baiPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return bam.WriteIndex(out.Writer(ctx), &idx)
}
