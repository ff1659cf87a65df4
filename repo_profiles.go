package sessionsync

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the persistence surface for application profiles. It
// satisfies AccountDirectory, so a bun-backed instance can be handed
// straight to the controller, and adds the administrative operations
// the sync flows themselves never call.
type Profiles interface {
	repository.Repository[*Profile]
	AccountDirectory

	CreateProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)
	SetActive(ctx context.Context, id string, active bool) (*Profile, error)
	SetActiveTx(ctx context.Context, tx bun.IDB, id string, active bool) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db *bun.DB
}

var (
	_ Profiles         = (*profiles)(nil)
	_ AccountDirectory = (*profiles)(nil)
)

// NewProfilesRepository builds the bun-backed profile store.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

// GetProfile implements AccountDirectory. The id is the identity
// subject, which doubles as the profile's primary key.
func (r *profiles) GetProfile(ctx context.Context, id string) (*Profile, error) {
	record, err := r.Repository.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, wrapWithSource(ErrProfileNotFound, err, map[string]any{
				"subject": id,
			})
		}
		return nil, err
	}

	return record, nil
}

// CreateProfile implements AccountDirectory.
func (r *profiles) CreateProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	return r.CreateProfileTx(ctx, r.db, profile)
}

func (r *profiles) CreateProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error) {
	prepareProfileDefaults(profile)
	return r.Repository.CreateTx(ctx, tx, profile)
}

// UpdateProfile implements AccountDirectory: only the update's present
// fields are written, everything else keeps its stored value.
func (r *profiles) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*Profile, error) {
	current, err := r.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.IsEmpty() {
		return current, nil
	}

	update.Apply(current)
	now := time.Now()
	current.UpdatedAt = &now

	return r.Repository.Update(ctx, current, repository.UpdateByID(current.ID.String()))
}

// SetActive flips the activation flag. Deactivation does not remove the
// row: history stays, and the next session resolution for the subject
// is rejected.
func (r *profiles) SetActive(ctx context.Context, id string, active bool) (*Profile, error) {
	return r.SetActiveTx(ctx, r.db, id, active)
}

func (r *profiles) SetActiveTx(ctx context.Context, tx bun.IDB, id string, active bool) (*Profile, error) {
	current, err := r.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Active == active {
		return current, nil
	}

	current.Active = active
	now := time.Now()
	current.UpdatedAt = &now

	return r.Repository.UpdateTx(ctx, tx, current, repository.UpdateByID(current.ID.String()))
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = DefaultRole
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
}

// DirectoryManager bundles the repositories the application wires at
// startup and offers transaction scoping over them.
type DirectoryManager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() Profiles
}

type dirmngr struct {
	db       *bun.DB
	profiles Profiles
}

func NewDirectoryManager(db *bun.DB) DirectoryManager {
	return &dirmngr{
		db:       db,
		profiles: NewProfilesRepository(db),
	}
}

func (m dirmngr) Validate() error {
	if m.profiles == nil {
		return ErrProfileStoreNotInitialized
	}
	return nil
}

func (m dirmngr) MustValidate() {
	if err := m.Validate(); err != nil {
		panic(err)
	}
}

func (m dirmngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m dirmngr) Profiles() Profiles {
	return m.profiles
}
