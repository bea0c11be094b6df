// Package dummydb provides in-memory repositories for tests. Filter and
// error semantics mirror the PostgreSQL bindings so suites can swap it in
// without changing assertions.
package dummydb

import (
	"sync"

	"github.com/trezcool/maombi/core/application"
	"github.com/trezcool/maombi/core/program"
	"github.com/trezcool/maombi/core/user"
)

type (
	DB struct {
		user        *userTable
		program     *programTable
		application *applicationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	programTable struct {
		sync.RWMutex
		table map[string]*program.Program
	}

	applicationTable struct {
		sync.RWMutex
		table map[string]*application.Submission
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:        &userTable{table: make(map[string]*user.User)},
		program:     &programTable{table: make(map[string]*program.Program)},
		application: &applicationTable{table: make(map[string]*application.Submission)},
	}
	return db, nil
}

// Reset drops all rows. Test suites call it between cases that share a DB.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.program.Lock()
	db.program.table = make(map[string]*program.Program)
	db.program.Unlock()

	db.application.Lock()
	db.application.table = make(map[string]*application.Submission)
	db.application.Unlock()
}
