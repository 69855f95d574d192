package repository

import (
	"context"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4/pgxpool"

	"civichub/pkg/api"
)

// Directory resolves broadcast audiences against the relational user store.
// User rows are owned by the external identity system; this side only reads.
type Directory struct {
	db *pgxpool.Pool
}

var _ api.AudienceResolver = (*Directory)(nil)

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// Recipients returns the uids holding the roles the audience names.
func (d *Directory) Recipients(ctx context.Context, audience api.Audience) ([]string, error) {
	var uids []string
	var err error
	switch audience {
	case api.AudienceEmployees:
		err = pgxscan.Select(ctx, d.db, &uids,
			"SELECT uid FROM user_account WHERE role IN ('employee', 'admin')")
	case api.AudienceCitizens:
		err = pgxscan.Select(ctx, d.db, &uids,
			"SELECT uid FROM user_account WHERE role = 'citizen'")
	case api.AudienceAll:
		err = pgxscan.Select(ctx, d.db, &uids, "SELECT uid FROM user_account")
	default:
		return nil, &api.ValidationError{Field: "audience", Reason: "unknown audience"}
	}
	if err != nil {
		return nil, err
	}
	return uids, nil
}
