package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/warp/client-ledger/storage"
)

// =============================================================================
// CLIENT OPERATIONS
// =============================================================================

// RegisterClient validates and inserts a client, returning its key.
func (s *Service) RegisterClient(ctx context.Context, in ClientInput) (ClientID, error) {
	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Tier == "" {
		in.Tier = TierRegular
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if err := s.validateClient(in); err != nil {
		return 0, err
	}

	now := s.now()
	res, err := s.backend.Exec(ctx, storage.ClientInsert,
		in.FullName, in.Age, in.Address, in.Email, in.Phone, in.Company,
		string(in.Tier), string(in.Status), now.Format(DateLayout), s.timestamp(),
		in.Notes, bpFromRate(in.Discount))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return 0, &DuplicateEmailError{Email: in.Email, Err: err}
		}
		return 0, err
	}

	id := ClientID(res.LastInsertID)
	s.logger.Info().Int64("client_id", int64(id)).Str("tier", string(in.Tier)).Msg("client registered")
	return id, nil
}

// FindClients returns clients matching the filter in registration order.
func (s *Service) FindClients(ctx context.Context, f ClientFilter) ([]Client, error) {
	return s.searchClients(ctx, "find_clients", storage.ClientSearch, f)
}

// ListClients is FindClients ordered by name (case-insensitive). The limit
// applies after ordering.
func (s *Service) ListClients(ctx context.Context, f ClientFilter) ([]Client, error) {
	return s.searchClients(ctx, "list_clients", storage.ClientSearchByName, f)
}

func (s *Service) searchClients(ctx context.Context, op string, stmt storage.Statement, f ClientFilter) ([]Client, error) {
	return read(ctx, s, op, func() ([]Client, error) {
		rows, err := s.backend.Query(ctx, stmt,
			likePattern(f.Query), nullable(string(f.Status)), nullable(string(f.Tier)), f.Limit)
		if err != nil {
			return nil, err
		}
		return collect(rows, scanClient)
	})
}

// GetClient returns one client without its sales.
func (s *Service) GetClient(ctx context.Context, id ClientID) (*Client, error) {
	c, err := read(ctx, s, "get_client", func() (Client, error) {
		return one(ctx, s.backend, storage.ClientGet, scanClient, int64(id))
	})
	if errors.Is(err, storage.ErrNoRows) {
		return nil, &NotFoundError{Entity: "client", ID: int64(id)}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientDetail returns a client with its full sale history, newest first.
func (s *Service) GetClientDetail(ctx context.Context, id ClientID) (*ClientDetail, error) {
	c, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	sales, err := s.ListSales(ctx, SaleFilter{ClientID: id})
	if err != nil {
		return nil, err
	}
	return &ClientDetail{Client: *c, Sales: sales}, nil
}

// UpdateProfile applies a partial edit. The row is locked for the duration
// so a concurrent sale cannot interleave with the tier/discount write.
// Demotion is only possible here.
func (s *Service) UpdateProfile(ctx context.Context, id ClientID, u ProfileUpdate) (*Client, error) {
	var updated Client
	err := storage.WithTx(ctx, s.backend, func(tx storage.Tx) error {
		current, err := one(ctx, tx, storage.ClientLockForSale, scanClient, int64(id))
		if errors.Is(err, storage.ErrNoRows) {
			return &NotFoundError{Entity: "client", ID: int64(id)}
		}
		if err != nil {
			return err
		}

		in := mergeProfile(current, u)
		if err := s.validateClient(in); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, storage.ClientUpdateProfile,
			in.FullName, in.Age, in.Address, in.Email, in.Phone, in.Company,
			string(in.Tier), string(current.Status), in.Notes, bpFromRate(in.Discount),
			s.timestamp(), int64(id))
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return &DuplicateEmailError{Email: in.Email, Err: err}
			}
			return err
		}

		updated, err = one(ctx, tx, storage.ClientGet, scanClient, int64(id))
		if err != nil {
			return err
		}

		if current.Tier != updated.Tier {
			s.logger.Info().Int64("client_id", int64(id)).
				Str("from", string(current.Tier)).
				Str("to", string(updated.Tier)).
				Msg("tier changed by profile edit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ChangeStatus activates or deactivates a client. Clients are never deleted.
func (s *Service) ChangeStatus(ctx context.Context, id ClientID, status Status) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Message: "must be one of Active, Inactive, Prospect"}
	}
	res, err := s.backend.Exec(ctx, storage.ClientUpdateStatus, string(status), s.timestamp(), int64(id))
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Entity: "client", ID: int64(id)}
	}
	s.logger.Info().Int64("client_id", int64(id)).Str("status", string(status)).Msg("client status changed")
	return nil
}

func mergeProfile(c Client, u ProfileUpdate) ClientInput {
	in := ClientInput{
		FullName: c.FullName,
		Age:      c.Age,
		Address:  c.Address,
		Email:    c.Email,
		Phone:    c.Phone,
		Company:  c.Company,
		Tier:     c.Tier,
		Status:   c.Status,
		Discount: c.Discount,
		Notes:    c.Notes,
	}
	if u.FullName != nil {
		in.FullName = strings.TrimSpace(*u.FullName)
	}
	if u.Age != nil {
		in.Age = *u.Age
	}
	if u.Address != nil {
		in.Address = *u.Address
	}
	if u.Email != nil {
		in.Email = normalizeEmail(*u.Email)
	}
	if u.Phone != nil {
		in.Phone = *u.Phone
	}
	if u.Company != nil {
		in.Company = *u.Company
	}
	if u.Tier != nil {
		in.Tier = *u.Tier
	}
	if u.Discount != nil {
		in.Discount = *u.Discount
	}
	if u.Notes != nil {
		in.Notes = *u.Notes
	}
	return in
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns free text into a bound substring pattern, or NULL.
func likePattern(q string) any {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	return "%" + likeEscaper.Replace(q) + "%"
}
