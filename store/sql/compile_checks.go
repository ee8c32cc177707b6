package sqlstore

import "github.com/goliatone/go-bankauth/core"

var (
	_ core.RecordStore            = (*TokenStore)(nil)
	_ core.RetentionStore         = (*TokenStore)(nil)
	_ core.RecordStore            = (*CachedTokenStore)(nil)
	_ core.RetentionStore         = (*CachedTokenStore)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
