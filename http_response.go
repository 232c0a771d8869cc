package main

import (
	"encoding/json"
	"net/http"
)

type HttpResult struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func httpResponse(w http.ResponseWriter, code int, msg string) {
	httpResponse2(w, code, HttpResult{
		Code: code,
		Msg:  msg,
	})
}

func httpResponseOk(w http.ResponseWriter, data interface{}) {
	httpResponse2(w, http.StatusOK, HttpResult{
		Code: http.StatusOK,
		Msg:  "ok",
		Data: data,
	})
}

func httpResponse2(w http.ResponseWriter, code int, payload interface{}) {
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE")
	w.WriteHeader(code)
	w.Write(body)
}
