// keytool administra la llave maestra y las credenciales de API de Tinto; sólo se
// ejecuta con acceso directo de consola (TINTO_CONSOLE_ACCESS presente), nunca
// como parte de un flujo de red.
//
// Uso:
//
//	keytool seal                                    genera el blob cifrado de una llave maestra nueva
//	keytool derive -name <n> -role <ADMIN|OPERATOR|AUDITOR>   deriva y muestra una credencial de API
//	keytool cert   -p12 <ruta> -password <pwd>       valida un certificado PKCS#12 de emisor
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/tintofe/einvoice-core/internal/application/keycustody"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
	"github.com/tintofe/einvoice-core/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seal":
		runSeal(os.Args[2:])
	case "derive":
		runDerive(os.Args[2:])
	case "cert":
		runCert(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "uso: keytool <seal|derive|cert> [flags]")
}

func requireConsoleAccess(cfg *config.Config) {
	if os.Getenv(cfg.Security.ConsoleAccessEnv) == "" {
		fmt.Fprintf(os.Stderr, "keytool requiere %s definido; no se ejecuta desde un flujo de red\n", cfg.Security.ConsoleAccessEnv)
		os.Exit(1)
	}
}

// runSeal genera 32 bytes de material de llave maestra nuevo, lo cifra bajo la llave
// de sistema (TINTO_SYSTEM_KEY) y escribe el blob resultante en MasterKeyFilePath.
func runSeal(args []string) {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := config.Load()
	fatalIf(err, "cargar configuración")
	requireConsoleAccess(cfg)

	systemKeyB64 := os.Getenv(cfg.Security.SystemKeyEnv)
	if systemKeyB64 == "" {
		fmt.Fprintf(os.Stderr, "%s no está definido\n", cfg.Security.SystemKeyEnv)
		os.Exit(1)
	}
	systemKeyRaw, err := base64.StdEncoding.DecodeString(systemKeyB64)
	fatalIf(err, "decodificar llave de sistema")
	if len(systemKeyRaw) != 32 {
		fmt.Fprintln(os.Stderr, "la llave de sistema debe decodificar a 32 bytes")
		os.Exit(1)
	}
	var systemKey [32]byte
	copy(systemKey[:], systemKeyRaw)

	materialBytes, err := icrypto.SecureRandomBytes(32)
	fatalIf(err, "generar material de llave maestra")
	var material [32]byte
	copy(material[:], materialBytes)

	sealed, err := keycustody.Seal(systemKey, material)
	fatalIf(err, "cifrar llave maestra")

	if err := os.WriteFile(cfg.Security.MasterKeyFilePath, []byte(sealed), 0o600); err != nil {
		fatalIf(err, "escribir archivo de llave maestra")
	}
	fmt.Printf("llave maestra nueva escrita en %s\n", cfg.Security.MasterKeyFilePath)
}

// runDerive carga la llave maestra vigente y deriva una credencial de API nueva,
// mostrando el secreto crudo una sola vez.
func runDerive(args []string) {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	name := fs.String("name", "", "nombre de la credencial")
	role := fs.String("role", "", "ADMIN, OPERATOR o AUDITOR")
	production := fs.Bool("production", false, "deriva con Argon2id (requiere TINTO_INSTALL_SALT)")
	fs.Parse(args)

	if *name == "" || *role == "" {
		fmt.Fprintln(os.Stderr, "uso: keytool derive -name <nombre> -role <ADMIN|OPERATOR|AUDITOR> [-production]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	fatalIf(err, "cargar configuración")
	requireConsoleAccess(cfg)

	mk, err := keycustody.Load(keycustody.LoadConfig{
		ConsoleAccessEnv:  cfg.Security.ConsoleAccessEnv,
		SystemKeyEnv:      cfg.Security.SystemKeyEnv,
		MasterKeyFilePath: cfg.Security.MasterKeyFilePath,
	}, os.Getenv, os.ReadFile)
	fatalIf(err, "cargar llave maestra")

	mode := keycustody.KDFHabilitacion
	var installSalt []byte
	if *production {
		mode = keycustody.KDFProduccion
		installSalt, err = base64.StdEncoding.DecodeString(cfg.Security.InstallSaltB64)
		fatalIf(err, "decodificar sal de instalación")
	}

	derived, err := keycustody.Derive(mk, mode, *name, entity.ApiKeyRole(*role), mk.LoadedAt().UnixMilli(), installSalt)
	fatalIf(err, "derivar credencial")

	fmt.Printf("fingerprint:      %s\n", derived.Fingerprint)
	fmt.Printf("secreto crudo:    %s\n", derived.RawSecret)
	fmt.Printf("secreto cifrado:  %s\n", derived.EncryptedSecret)
	fmt.Println("el secreto crudo no se volverá a mostrar; entréguelo al consumidor fuera de banda.")
}

// runCert valida que un almacén PKCS#12 sea legible y RSA antes de aprovisionarlo
// como certificado de un emisor.
func runCert(args []string) {
	fs := flag.NewFlagSet("cert", flag.ExitOnError)
	p12Path := fs.String("p12", "", "ruta al almacén PKCS#12 del emisor")
	password := fs.String("password", "", "contraseña del almacén")
	fs.Parse(args)

	if *p12Path == "" {
		fmt.Fprintln(os.Stderr, "uso: keytool cert -p12 <ruta> -password <contraseña>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	fatalIf(err, "cargar configuración")
	requireConsoleAccess(cfg)

	cert, err := signer.LoadFromP12(*p12Path, *password)
	fatalIf(err, "cargar certificado")

	digest, issuer, serial := signer.CertDigestAndIssuerSerial(cert.Leaf)
	fmt.Printf("certificado válido: emisor=%s serie=%s digest=%s\n", issuer, serial, digest)
}

func fatalIf(err error, action string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
		os.Exit(1)
	}
}
