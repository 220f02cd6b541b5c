package odbmem_test

import (
	"testing"

	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/odb/odbtest"
)

func TestDatabaseCompliance(t *testing.T) {
	t.Parallel()

	odbtest.TestDatabaseCompliance(t, func(t *testing.T) odb.Database {
		return odbmem.New()
	})
}
