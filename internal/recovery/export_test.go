package recovery

var SkippedRecords = skippedRecords
