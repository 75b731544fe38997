package prover

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/davinci-publisher/log"
)

// Curve is the curve every program is compiled on. BN254 is the curve the EVM
// pairing precompiles support.
const Curve = ecc.BN254

// circuitSetup holds the compiled program and, once generated or loaded, its
// Groth16 keys.
type circuitSetup struct {
	program Program
	ccs     constraint.ConstraintSystem
	pk      groth16.ProvingKey
	vk      groth16.VerifyingKey
	digest  common.Hash
}

func compile(p Program) (*circuitSetup, error) {
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, p.Circuit())
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", p.Name(), err)
	}
	return &circuitSetup{program: p, ccs: ccs}, nil
}

// ensureKeys loads the Groth16 keys of s from dir or, if they are not there,
// runs a new setup and stores them. With an empty dir the keys only live in
// memory.
func (s *circuitSetup) ensureKeys(dir string, id ProgramID) error {
	if s.pk != nil && s.vk != nil {
		return nil
	}
	pkPath, vkPath := keyPaths(dir, id)
	if dir != "" {
		pk, vk, err := readKeys(pkPath, vkPath)
		switch {
		case err == nil:
			log.Debugw("loaded proving keys", "program", s.program.Name(), "dir", dir)
			return s.setKeys(pk, vk)
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
	}
	log.Infow("running groth16 setup", "program", s.program.Name(), "constraints", s.ccs.GetNbConstraints())
	pk, vk, err := groth16.Setup(s.ccs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}
	if dir != "" {
		if err := writeKeys(dir, pkPath, vkPath, pk, vk); err != nil {
			return err
		}
	}
	return s.setKeys(pk, vk)
}

func (s *circuitSetup) setKeys(pk groth16.ProvingKey, vk groth16.VerifyingKey) error {
	digest, err := VerifyingKeyDigest(vk)
	if err != nil {
		return err
	}
	s.pk, s.vk, s.digest = pk, vk, digest
	return nil
}

// VerifyingKeyDigest returns the keccak256 digest of the serialized verifying
// key.
func VerifyingKeyDigest(vk groth16.VerifyingKey) (common.Hash, error) {
	h := crypto.NewKeccakState()
	if _, err := vk.WriteTo(h); err != nil {
		return common.Hash{}, fmt.Errorf("hash verifying key: %w", err)
	}
	return common.BytesToHash(h.Sum(nil)), nil
}

func keyPaths(dir string, id ProgramID) (string, string) {
	base := filepath.Join(dir, common.Hash(id).Hex()[2:18])
	return base + ".pk", base + ".vk"
}

func readKeys(pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pkFile, err := os.Open(pkPath)
	if err != nil {
		return nil, nil, err
	}
	defer pkFile.Close()
	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, nil, err
	}
	defer vkFile.Close()

	pk := groth16.NewProvingKey(Curve)
	if _, err := pk.ReadFrom(pkFile); err != nil {
		return nil, nil, fmt.Errorf("read proving key %s: %w", pkPath, err)
	}
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return nil, nil, fmt.Errorf("read verifying key %s: %w", vkPath, err)
	}
	return pk, vk, nil
}

func writeKeys(dir, pkPath, vkPath string, pk groth16.ProvingKey, vk groth16.VerifyingKey) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create keys dir: %w", err)
	}
	if err := writeKey(pkPath, pk.WriteTo); err != nil {
		return err
	}
	return writeKey(vkPath, vk.WriteTo)
}

func writeKey(path string, writeTo func(w io.Writer) (int64, error)) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := writeTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
