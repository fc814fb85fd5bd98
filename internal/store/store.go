// Package store persists identities and everything attached to them:
// password hashes, preferences, IM accounts, rosters and deny lists.
//
// Data lives in a buntdb file. Keys are namespaced by identity name.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyIdentityPassword = "user.%s.password"
	keyIdentitySetting  = "user.%s.setting.%s"
	keyAccount          = "user.%s.account.%s"
	keyAccountSeq       = "user.%s.seq.%s"
	keyBuddy            = "user.%s.buddy.%s.%s"
	keyDeny             = "user.%s.deny.%s.%s"
)

var (
	// ErrNotFound means the identity does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrExists means the identity already exists.
	ErrExists = errors.New("identity already exists")

	// ErrBadPassword means the password does not match.
	ErrBadPassword = errors.New("password mismatch")
)

// AccountRecord is the stored form of an IM account.
type AccountRecord struct {
	ID       string            `json:"id"`
	Protocol string            `json:"protocol"`
	Username string            `json:"username"`
	Options  map[string]string `json:"options"`
}

// BuddyRecord is the stored form of a roster entry.
type BuddyRecord struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	Group string `json:"group,omitempty"`
}

// Store is the database.
type Store struct {
	db *buntdb.DB

	// BcryptCost is the cost used when hashing passwords.
	BcryptCost int
}

// Open opens the database at path. ":memory:" gives a throwaway one.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening database %s", path)
	}
	return &Store{db: db, BcryptCost: bcrypt.DefaultCost}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IdentityExists tells whether the identity has been created.
func (s *Store) IdentityExists(user string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(fmt.Sprintf(keyIdentityPassword, user))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// CreateIdentity creates an identity with the given password.
func (s *Store) CreateIdentity(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return errors.Wrap(err, "error hashing password")
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		key := fmt.Sprintf(keyIdentityPassword, user)
		if _, err := tx.Get(key); err == nil {
			return ErrExists
		}
		_, _, err := tx.Set(key, string(hash), nil)
		return err
	})
}

// CheckPassword returns nil if password is the identity's password.
func (s *Store) CheckPassword(user, password string) error {
	var hash string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		hash, err = tx.Get(fmt.Sprintf(keyIdentityPassword, user))
		return err
	})
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "error reading password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadPassword
	}
	return nil
}

// SetPassword replaces the identity's password.
func (s *Store) SetPassword(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return errors.Wrap(err, "error hashing password")
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		key := fmt.Sprintf(keyIdentityPassword, user)
		if _, err := tx.Get(key); err != nil {
			if err == buntdb.ErrNotFound {
				return ErrNotFound
			}
			return err
		}
		_, _, err := tx.Set(key, string(hash), nil)
		return err
	})
}

// Setting returns a preference, "" if unset.
func (s *Store) Setting(user, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(fmt.Sprintf(keyIdentitySetting, user, key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		value = v
		return err
	})
	return value, err
}

// SetSetting stores a preference.
func (s *Store) SetSetting(user, key, value string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(keyIdentitySetting, user, key), value, nil)
		return err
	})
}

// Accounts returns the identity's accounts sorted by ID.
func (s *Store) Accounts(user string) ([]AccountRecord, error) {
	var accounts []AccountRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(fmt.Sprintf(keyAccount, user, "*"),
			func(key, value string) bool {
				var rec AccountRecord
				if err := json.Unmarshal([]byte(value), &rec); err != nil {
					decodeErr = errors.Wrapf(err, "error decoding %s", key)
					return false
				}
				accounts = append(accounts, rec)
				return true
			})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

// PutAccount creates or replaces an account.
func (s *Store) PutAccount(user string, rec AccountRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "error encoding account")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(keyAccount, user, rec.ID), string(buf), nil)
		return err
	})
}

// DeleteAccount removes an account with its roster and deny list.
func (s *Store) DeleteAccount(user, id string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(fmt.Sprintf(keyAccount, user, id)); err != nil &&
			err != buntdb.ErrNotFound {
			return err
		}

		var keys []string
		for _, pattern := range []string{
			fmt.Sprintf(keyBuddy, user, id, "*"),
			fmt.Sprintf(keyDeny, user, id, "*"),
		} {
			err := tx.AscendKeys(pattern, func(key, value string) bool {
				keys = append(keys, key)
				return true
			})
			if err != nil {
				return err
			}
		}

		// Deleting while iterating is not allowed.
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// NextAccountID allocates a short ID for a new account of the protocol:
// the protocol ID followed by a sequence number.
func (s *Store) NextAccountID(user, protocol string) (string, error) {
	var id string
	err := s.db.Update(func(tx *buntdb.Tx) error {
		seqKey := fmt.Sprintf(keyAccountSeq, user, protocol)
		n := 0
		if v, err := tx.Get(seqKey); err == nil {
			n, err = strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "bad sequence in %s", seqKey)
			}
		} else if err != buntdb.ErrNotFound {
			return err
		}

		// Skip IDs still in use, e.g. from before a sequence reset.
		for {
			id = protocol + strconv.Itoa(n)
			n++
			if _, err := tx.Get(fmt.Sprintf(keyAccount, user, id)); err == buntdb.ErrNotFound {
				break
			}
		}

		_, _, err := tx.Set(seqKey, strconv.Itoa(n), nil)
		return err
	})
	return id, err
}

// Buddies returns an account's roster sorted by name.
func (s *Store) Buddies(user, account string) ([]BuddyRecord, error) {
	var buddies []BuddyRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(fmt.Sprintf(keyBuddy, user, account, "*"),
			func(key, value string) bool {
				var rec BuddyRecord
				if err := json.Unmarshal([]byte(value), &rec); err != nil {
					decodeErr = errors.Wrapf(err, "error decoding %s", key)
					return false
				}
				buddies = append(buddies, rec)
				return true
			})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(buddies, func(i, j int) bool {
		return buddies[i].Name < buddies[j].Name
	})
	return buddies, nil
}

// PutBuddy adds or updates a roster entry.
func (s *Store) PutBuddy(user, account string, rec BuddyRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "error encoding buddy")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(keyBuddy, user, account, rec.Name),
			string(buf), nil)
		return err
	})
}

// DeleteBuddy removes a roster entry. Removing a missing entry is not an
// error.
func (s *Store) DeleteBuddy(user, account, name string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(fmt.Sprintf(keyBuddy, user, account, name))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// DenyList returns the names blocked on an account, sorted.
func (s *Store) DenyList(user, account string) ([]string, error) {
	var names []string
	prefix := fmt.Sprintf(keyDeny, user, account, "")
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(fmt.Sprintf(keyDeny, user, account, "*"),
			func(key, value string) bool {
				names = append(names, strings.TrimPrefix(key, prefix))
				return true
			})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// AddDeny blocks a name on an account.
func (s *Store) AddDeny(user, account, name string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(keyDeny, user, account, name), "1", nil)
		return err
	})
}

// RemoveDeny unblocks a name. Removing a missing entry is not an error.
func (s *Store) RemoveDeny(user, account, name string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(fmt.Sprintf(keyDeny, user, account, name))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}
