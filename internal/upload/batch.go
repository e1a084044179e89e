package upload

// Batch is the set of files sent in one request.
// Offset is the position of Files[0] in the job's accepted file list.
type Batch struct {
	Seq    int
	Offset int
	Files  []File
}

// Bytes returns the summed size of the batch's files
func (b Batch) Bytes() int64 {
	return totalBytes(b.Files)
}

// Index returns the job-wide index of the i-th file of the batch
func (b Batch) Index(i int) int {
	return b.Offset + i
}

// Partition splits files into batches of at most maxPerRequest files,
// preserving order. maxPerRequest <= 0 puts every file in one batch.
func Partition(files []File, maxPerRequest int) []Batch {
	if len(files) == 0 {
		return nil
	}
	if maxPerRequest <= 0 || maxPerRequest > len(files) {
		maxPerRequest = len(files)
	}

	batches := make([]Batch, 0, (len(files)+maxPerRequest-1)/maxPerRequest)
	for start := 0; start < len(files); start += maxPerRequest {
		end := min(start+maxPerRequest, len(files))
		batches = append(batches, Batch{
			Seq:    len(batches),
			Offset: start,
			Files:  files[start:end:end],
		})
	}
	return batches
}
