package config

import "fmt"

const maxFeeBps = uint64(1000)

func (c *Config) Validate() error {
	bonds := make(map[string]Bond, len(c.Bonds))
	for _, b := range c.Bonds {
		if b.Symbol == "" || b.Underlying == "" {
			return fmt.Errorf("bonds: symbol and underlying are required")
		}
		if b.Maturity == 0 {
			return fmt.Errorf("bonds: %s: maturity is required", b.Symbol)
		}
		if _, ok := bonds[b.Symbol]; ok {
			return fmt.Errorf("bonds: duplicate symbol %s", b.Symbol)
		}
		bonds[b.Symbol] = b
	}
	poolIDs := make(map[string]struct{}, len(c.Pools))
	for _, p := range c.Pools {
		if p.ID == "" {
			return fmt.Errorf("pools: id is required")
		}
		if _, ok := poolIDs[p.ID]; ok {
			return fmt.Errorf("pools: duplicate id %s", p.ID)
		}
		poolIDs[p.ID] = struct{}{}
		b, ok := bonds[p.Bond]
		if !ok {
			return fmt.Errorf("pools: %s: unknown bond %s", p.ID, p.Bond)
		}
		if p.Underlying != b.Underlying {
			return fmt.Errorf("pools: %s: underlying %s does not match bond underlying %s", p.ID, p.Underlying, b.Underlying)
		}
		if p.Maturity != b.Maturity {
			return fmt.Errorf("pools: %s: maturity does not match bond maturity", p.ID)
		}
		if p.FeeBps > maxFeeBps {
			return fmt.Errorf("pools: %s: fee_bps > %d", p.ID, maxFeeBps)
		}
	}
	kinds := make(map[string]struct{}, len(c.Collaterals))
	for _, col := range c.Collaterals {
		if col.Kind == "" {
			return fmt.Errorf("collaterals: kind is required")
		}
		if col.RatioBps == 0 {
			return fmt.Errorf("collaterals: %s: ratio_bps is required", col.Kind)
		}
		if _, ok := kinds[col.Kind]; ok {
			return fmt.Errorf("collaterals: duplicate kind %s", col.Kind)
		}
		kinds[col.Kind] = struct{}{}
	}
	return nil
}
