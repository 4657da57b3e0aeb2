package saddle

import "fmt"

// BlockPreconditioner approximates the inverse of the saddle operator,
// typically with one solver for the M11 block and one for a Schur
// complement approximation. Only the identity is available.
type BlockPreconditioner interface {
	Name() string
	// Apply computes z = P⁻¹ r
	Apply(sys *System, r, z *SplitVector) error
}

type IdentityPreconditioner struct{}

func (IdentityPreconditioner) Name() string { return "none" }

func (IdentityPreconditioner) Apply(_ *System, r, z *SplitVector) error {
	z.CopyFrom(r)
	return nil
}

func checkPreconditioner(p BlockPreconditioner) error {
	switch p.(type) {
	case nil, IdentityPreconditioner, *IdentityPreconditioner:
		return nil
	}
	return fmt.Errorf("block preconditioner %q is not supported by MINRES", p.Name())
}
