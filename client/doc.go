// Package client 提供访问 ScoreFlow 服务的 Go 客户端。
//
// 客户端覆盖模型部署、下线、查询与求值（单条、批量、CSV 流式），
// 服务端错误被还原为 *types.Error，可用 types.GetErrorCode 判断。
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//		return err
//	}
//	f, _ := os.Open("transactions.csv")
//	defer f.Close()
//	err = c.EvaluateCSV(ctx, "shopping", f, os.Stdout)
package client
