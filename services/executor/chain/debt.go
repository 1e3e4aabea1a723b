package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// DebtDecimals is the fixed-point scale of the resolver's borrow amount (USDC).
const DebtDecimals = 6

// ErrShortBuffer is returned when resolver output is smaller than the decoder schema.
var ErrShortBuffer = errors.New("resolver output shorter than schema")

// DebtDecoder describes where the borrow amount lives in a resolver's raw output.
type DebtDecoder struct {
	Name      string
	Signature string
	WordIndex int
	WordSize  int
}

// FluidPositionV1 reads the borrow field of the position tuple returned by
// positionByNftId(uint256): the eighth 32-byte word, at byte offset 224.
var FluidPositionV1 = DebtDecoder{
	Name:      "fluid-position-v1",
	Signature: "positionByNftId(uint256)",
	WordIndex: 7,
	WordSize:  32,
}

var debtDecoders = map[string]DebtDecoder{
	FluidPositionV1.Name: FluidPositionV1,
}

// LookupDebtDecoder returns the registered schema called name.
func LookupDebtDecoder(name string) (DebtDecoder, bool) {
	d, ok := debtDecoders[name]
	return d, ok
}

// Selector returns the four-byte function selector of the schema's signature.
func (d DebtDecoder) Selector() []byte {
	return gethcrypto.Keccak256([]byte(d.Signature))[:4]
}

// Calldata encodes a call for the supplied position id.
func (d DebtDecoder) Calldata(positionID *big.Int) ([]byte, error) {
	if positionID == nil || positionID.Sign() < 0 {
		return nil, fmt.Errorf("%s: position id must be non-negative", d.Name)
	}
	id, overflow := uint256.FromBig(positionID)
	if overflow {
		return nil, fmt.Errorf("%s: position id overflows uint256", d.Name)
	}
	word := id.Bytes32()
	data := make([]byte, 0, 4+len(word))
	data = append(data, d.Selector()...)
	return append(data, word[:]...), nil
}

// Decode extracts the debt word from raw resolver output.
func (d DebtDecoder) Decode(raw []byte) (*big.Int, error) {
	if d.WordSize <= 0 || d.WordSize > 32 || d.WordIndex < 0 {
		return nil, fmt.Errorf("%s: invalid schema", d.Name)
	}
	end := (d.WordIndex + 1) * d.WordSize
	if len(raw) < end {
		return nil, decodeErr(fmt.Errorf("%s: %w: have %d bytes, need %d", d.Name, ErrShortBuffer, len(raw), end))
	}
	word := new(uint256.Int).SetBytes(raw[end-d.WordSize : end])
	return word.ToBig(), nil
}

// DebtReader reads outstanding vault debt directly from the lending resolver.
type DebtReader struct {
	caller     Caller
	resolver   common.Address
	positionID *big.Int
	decoder    DebtDecoder
	strict     bool
	logger     *slog.Logger
}

// DebtOption customises a DebtReader.
type DebtOption func(*DebtReader)

// WithDecoder overrides the resolver output schema.
func WithDecoder(d DebtDecoder) DebtOption {
	return func(r *DebtReader) { r.decoder = d }
}

// WithStrictDebt makes read failures propagate instead of degrading to zero debt.
func WithStrictDebt(strict bool) DebtOption {
	return func(r *DebtReader) { r.strict = strict }
}

// WithDebtLogger installs a logger for degraded reads.
func WithDebtLogger(l *slog.Logger) DebtOption {
	return func(r *DebtReader) { r.logger = l }
}

// NewDebtReader constructs a reader for the supplied resolver and position.
func NewDebtReader(caller Caller, resolver common.Address, positionID *big.Int, opts ...DebtOption) *DebtReader {
	r := &DebtReader{
		caller:     caller,
		resolver:   resolver,
		positionID: new(big.Int).Set(positionID),
		decoder:    FluidPositionV1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VaultDebt returns the outstanding borrow amount. Unless strict mode is enabled any
// failure is logged and reported as zero debt.
func (r *DebtReader) VaultDebt(ctx context.Context, at *big.Int) (*big.Int, error) {
	debt, err := r.read(ctx, at)
	if err == nil {
		return debt, nil
	}
	if r.strict {
		return nil, fmt.Errorf("read vault debt: %w", err)
	}
	r.logger.Warn("vault debt read failed, assuming zero debt",
		slog.String("resolver", r.resolver.Hex()),
		slog.String("schema", r.decoder.Name),
		slog.String("position", r.positionID.String()),
		slog.Any("error", err))
	return new(big.Int), nil
}

func (r *DebtReader) read(ctx context.Context, at *big.Int) (*big.Int, error) {
	if r == nil || r.caller == nil {
		return nil, fmt.Errorf("debt reader not initialised")
	}
	input, err := r.decoder.Calldata(r.positionID)
	if err != nil {
		return nil, err
	}
	resolver := r.resolver
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &resolver, Data: input}, at)
	if err != nil {
		return nil, wrapRPC(err)
	}
	return r.decoder.Decode(out)
}
