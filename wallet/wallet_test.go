package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate(1)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "k.json")
	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	priv, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PrivKey(), priv)
	assert.Equal(t, w.Address(), New(priv, 1).Address())

	_, err = LoadKey(path, "wrong")
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.EqualError(t, err, "wrong password or corrupted keystore")

	_, err = LoadKey(filepath.Join(t.TempDir(), "missing.json"), "hunter2")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKeystoreAddressMismatch(t *testing.T) {
	w, err := Generate(1)
	require.NoError(t, err)
	other, err := Generate(1)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "k.json")
	require.NoError(t, SaveKey(path, "pw", w.PrivKey()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ks keystoreJSON
	require.NoError(t, json.Unmarshal(data, &ks))
	ks.Address = other.Address().Hex()
	data, err = json.Marshal(ks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = LoadKey(path, "pw")
	assert.ErrorContains(t, err, "does not match")
}

func TestKeystoreFormat(t *testing.T) {
	w, err := Generate(1)
	require.NoError(t, err)
	data, err := EncryptKey(w.PrivKey(), "pw")
	require.NoError(t, err)

	var ks keystoreJSON
	require.NoError(t, json.Unmarshal(data, &ks))
	assert.Equal(t, keystoreVersion, ks.Version)
	assert.Equal(t, w.Address().Hex(), ks.Address)
	assert.Equal(t, kdfName, ks.KDF.Name)
	assert.Equal(t, kdfIterations, ks.KDF.Iterations)

	priv, err := DecryptKey(data, "pw")
	require.NoError(t, err)
	assert.Equal(t, w.PrivKey(), priv)
}

func TestDecryptKeyRejects(t *testing.T) {
	w, err := Generate(1)
	require.NoError(t, err)
	data, err := EncryptKey(w.PrivKey(), "pw")
	require.NoError(t, err)

	cases := map[string]func(ks *keystoreJSON){
		"version":    func(ks *keystoreJSON) { ks.Version = 2 },
		"kdf":        func(ks *keystoreJSON) { ks.KDF.Name = "scrypt" },
		"iterations": func(ks *keystoreJSON) { ks.KDF.Iterations = 1 },
		"salt":       func(ks *keystoreJSON) { ks.KDF.Salt = "!!" },
		"nonce":      func(ks *keystoreJSON) { ks.Nonce = "AAAA" },
		"ciphertext": func(ks *keystoreJSON) { ks.Ciphertext = "AAAA" + ks.Ciphertext[4:] },
	}
	for name, mutate := range cases {
		var ks keystoreJSON
		require.NoError(t, json.Unmarshal(data, &ks))
		mutate(&ks)
		tampered, err := json.Marshal(ks)
		require.NoError(t, err)
		_, err = DecryptKey(tampered, "pw")
		assert.Error(t, err, name)
	}

	_, err = DecryptKey([]byte("{"), "pw")
	assert.ErrorContains(t, err, "parse keystore")
	_, err = EncryptKey(w.PrivKey(), "")
	assert.Error(t, err)
}

func TestSaltsDiffer(t *testing.T) {
	w, err := Generate(1)
	require.NoError(t, err)
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	require.NoError(t, SaveKey(a, "pw", w.PrivKey()))
	require.NoError(t, SaveKey(b, "pw", w.PrivKey()))
	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	assert.NotEqual(t, da, db)
}

func TestBuildersSign(t *testing.T) {
	w, err := Generate(9)
	require.NoError(t, err)
	market := crypto.ModuleAddress("market")
	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ref := core.AssetRef{Collection: collection, TokenID: 3}
	one := uint256.NewInt(1)

	build := map[core.TxType]func() (*core.Transaction, error){
		core.TxTransfer:          func() (*core.Transaction, error) { return w.Transfer(market, one, 0) },
		core.TxGrantRole:         func() (*core.Transaction, error) { return w.GrantRole(market, core.RoleAdmin, market, 0) },
		core.TxSetApprovalForAll: func() (*core.Transaction, error) { return w.SetApprovalForAll(collection, market, true, 0) },
		core.TxMint:              func() (*core.Transaction, error) { return w.Mint(collection, w.Address(), "1.json", 0) },
		core.TxCreateOrder:       func() (*core.Transaction, error) { return w.CreateOrder(market, ref, one, 0) },
		core.TxBuyOrder:          func() (*core.Transaction, error) { return w.BuyOrder(market, 1, one, 0) },
		core.TxStartAuction:      func() (*core.Transaction, error) { return w.StartAuction(market, ref, one, 60, 0) },
		core.TxBid:               func() (*core.Transaction, error) { return w.Bid(market, 1, one, 0) },
	}
	for typ, f := range build {
		tx, err := f()
		require.NoError(t, err, typ)
		assert.Equal(t, typ, tx.Type)
		assert.Equal(t, uint64(9), tx.ChainID)
		assert.Equal(t, w.Address(), tx.From)
		assert.NoError(t, tx.Verify(), typ)
	}

	var p core.ListingPayload
	tx, err := w.Bid(market, 4, one, 2)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(tx.Payload, &p))
	assert.Equal(t, uint64(4), p.ID)
	assert.Equal(t, uint64(2), tx.Nonce)
	assert.Equal(t, one, tx.Value)
}

func TestSignVoucher(t *testing.T) {
	w, err := Generate(5)
	require.NoError(t, err)
	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	v, err := w.SignVoucher(collection, common.HexToHash("0x01"), "7.json", uint256.NewInt(100), 250)
	require.NoError(t, err)

	signer, err := v.Signer(5, collection)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)

	tx, err := w.RedeemVoucher(collection, *v, v.MinPrice, 0)
	require.NoError(t, err)
	var p core.RedeemVoucherPayload
	require.NoError(t, json.Unmarshal(tx.Payload, &p))
	again, err := p.Voucher.Signer(5, collection)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), again, "voucher survives the payload encoding")
}
