package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/gate"
)

// ConfigurationSource supplies the configurations evaluated on each tick.
type ConfigurationSource interface {
	GetActiveConfigurations(ctx context.Context) ([]domain.Configuration, error)
}

// Executor runs a file check asynchronously. It takes ownership of slot and
// must release it when the execution ends.
type Executor interface {
	Execute(ctx context.Context, cmd domain.ExecuteFileCheck, slot *gate.Slot)
}

// Gate hands out execution slots without blocking.
type Gate interface {
	TryAcquire() (*gate.Slot, bool)
}

// IdempotencyKey identifies one scheduled fire of a configuration.
func IdempotencyKey(clientID, configurationID string, scheduled time.Time) string {
	data := fmt.Sprintf("%s:%s:%d", clientID, configurationID, scheduled.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
