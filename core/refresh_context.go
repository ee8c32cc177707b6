package core

import "context"

type previousRecordKey struct{}

func withPreviousRecord(ctx context.Context, record TokenRecord) context.Context {
	return context.WithValue(ctx, previousRecordKey{}, cloneTokenRecord(record))
}

// PreviousRecord returns the record a refresh is about to supersede. It is set
// on the context handed to a RefreshFunc when the key had an active record,
// so callbacks can reuse a provisioned subject instead of creating another.
func PreviousRecord(ctx context.Context) (TokenRecord, bool) {
	if ctx == nil {
		return TokenRecord{}, false
	}
	record, ok := ctx.Value(previousRecordKey{}).(TokenRecord)
	if !ok {
		return TokenRecord{}, false
	}
	return cloneTokenRecord(record), true
}
