package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"marketrouter/src/externalmodel"
	"marketrouter/src/model"
	"marketrouter/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownStrategy   = errors.New("no allocation for strategy")
	ErrInvalidAllocation = errors.New("invalid allocation")
)

var hundred = decimal.NewFromInt(100)

// Allocation maps a currency to its target share of the account value in percent.
// A negative share is a short target.
type Allocation map[string]decimal.Decimal

// Sum is the total of the signed percentages.
func (a Allocation) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, pct := range a {
		sum = sum.Add(pct)
	}
	return sum
}

// Remainder is the share left unallocated.
func (a Allocation) Remainder() decimal.Decimal {
	return hundred.Sub(a.Sum())
}

func (a Allocation) Validate() error {
	for code, pct := range a {
		if pct.Abs().GreaterThan(hundred) {
			return fmt.Errorf("%w: %s at %s%%", ErrInvalidAllocation, code, pct)
		}
	}
	if sum := a.Sum(); sum.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentages sum to %s", ErrInvalidAllocation, sum)
	}
	return nil
}

// Currencies returns the allocated currency codes in order.
func (a Allocation) Currencies() []string {
	out := make([]string, 0, len(a))
	for code := range a {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Source supplies the target allocation of an account.
type Source interface {
	Allocation(ctx context.Context, account *model.Account) (Allocation, error)
}

// YAMLSource reads allocations keyed by strategy from a YAML file. The file is read on every
// call so edits apply on the next cycle.
type YAMLSource struct {
	Path string
}

type allocationFile struct {
	Strategies map[string]map[string]float64 `yaml:"strategies"`
}

func (s *YAMLSource) Allocation(ctx context.Context, account *model.Account) (Allocation, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allocations file: %w", err)
	}

	var file allocationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse allocations file: %w", err)
	}

	weights, ok := file.Strategies[account.StrategyKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", account.StrategyKey, ErrUnknownStrategy)
	}

	a := Allocation{}
	for code, pct := range weights {
		a[strings.ToUpper(code)] = decimal.NewFromFloat(pct)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

type AllocationReader interface {
	ByStrategy(ctx context.Context, strategyKey string) ([]externalmodel.StrategyAllocation, error)
}

// DBSource reads allocations published by the strategy service.
type DBSource struct {
	Reader AllocationReader
}

func (s *DBSource) Allocation(ctx context.Context, account *model.Account) (Allocation, error) {
	rows, err := s.Reader.ByStrategy(ctx, account.StrategyKey)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", account.StrategyKey, ErrUnknownStrategy)
	}

	a := Allocation{}
	for _, row := range rows {
		code := strings.ToUpper(row.Currency)
		a[code] = a[code].Add(decimal.NewFromFloat(row.Percent))
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewSource builds the configured source. The db source needs the read-only database.
func NewSource(config Config) (Source, error) {
	switch config.AllocationSource {
	case "yaml", "":
		return &YAMLSource{Path: config.AllocationsFile}, nil
	case "db":
		logger.WithField("component", "strategy").Info("Reading allocations from the read-only database")
		return &DBSource{Reader: repository.NewAllocationRepository()}, nil
	default:
		return nil, fmt.Errorf("unknown allocation source %q", config.AllocationSource)
	}
}
