package journal

// PartitionOf returns the partition number that holds the given sequence
// number, for the given target partition size.
func PartitionOf(sequenceNr, size int64) int64 {
	return (sequenceNr - 1) / size
}

// MinSeqOf returns the lowest sequence number that maps to the given
// partition, for the given target partition size.
func MinSeqOf(partitionNr, size int64) int64 {
	return partitionNr*size + 1
}
