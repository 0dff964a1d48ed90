// Package wallet provides interfaces.WalletProvider implementations for
// environments without a browser wallet.
//
// KeystoreProvider unlocks accounts from a go-ethereum keystore directory
// and signs with them; StaticProvider signs with raw private keys and is
// what tests and the --dev mode use.
//
//	ethClient, _ := ethclient.Dial("http://127.0.0.1:8545")
//	provider := wallet.NewKeystoreProvider(keystoreDir, passphrase, ethClient, logger)
//	if err := provider.Start(ctx); err != nil {
//	    return err
//	}
//	defer provider.Close()
package wallet
