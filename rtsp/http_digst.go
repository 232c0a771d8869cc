package rtsp

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pion/randutil"
)

const nonceRunes = "0123456789abcdef"

func generateNonce() string {
	nonce, err := randutil.GenerateCryptoRandomString(32, nonceRunes)
	if err != nil {
		panic(fmt.Sprintf("failed to generate nonce err:%s", err.Error()))
	}

	return nonce
}

func generateAuthHeader(realm string) string {
	return fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5`,
		realm, generateNonce())
}

func h(data string) string {
	hash := md5.New()
	hash.Write([]byte(data))
	return hex.EncodeToString(hash.Sum(nil))
}

func calculateResponse(username, realm, nonce, method, uri, password string) string {
	//H(data) = MD5(data)
	//KD(secret, data) = H(concat(secret, ":", data))
	//request-digest  = <"> < KD ( H(A1), unq(nonce-value) ":" H(A2) ) > <">
	A1 := fmt.Sprintf("%s:%s:%s", username, realm, password)
	A2 := fmt.Sprintf("%s:%s", method, uri)

	return h(h(A1) + ":" + nonce + ":" + h(A2))
}

func parseAuthParams(value string) (map[string]string, error) {
	index := strings.Index(value, "Digest ")
	if index == -1 {
		return nil, fmt.Errorf("unknow scheme %s", value)
	}

	pairs := strings.Split(value[index+len("Digest "):], ",")
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		i := strings.Index(pair, "=")
		if i < 0 {
			m[strings.TrimSpace(pair)] = ""
		} else if i == len(pair)-1 {
			m[strings.TrimSpace(pair[:i])] = ""
		} else {
			m[strings.TrimSpace(pair[:i])] = strings.Trim(strings.TrimSpace(pair[i+1:]), "\"")
		}
	}

	return m, nil
}

func DoAuthenticatePlainTextPassword(params map[string]string, method, password string) bool {
	response := calculateResponse(params["username"], params["realm"], params["nonce"], method, params["uri"], password)
	return response == params["response"]
}
